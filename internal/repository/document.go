package repository

import (
	"context"

	"docingest/internal/model"
)

// DocumentRepository defines data access for documents using SQL queries only.
// No business logic here, strictly persistence operations.
type DocumentRepository interface {
	// Create inserts a new document record. ID and CreatedAt are assigned by the
	// database and returned on the stored document. Embedding may be nil.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns the caller's document by its ID, or ErrNotFound.
	FindByID(ctx context.Context, userID, id string) (*model.Document, error)

	// List returns a paginated list of the caller's documents, newest first.
	List(ctx context.Context, q ListQuery) (*PageResult[model.Document], error)

	// SearchSimilar returns the caller's documents closest to vec by cosine
	// distance. Rows without an embedding and excludeID are skipped.
	SearchSimilar(ctx context.Context, userID string, vec []float32, excludeID string, limit int) ([]model.ScoredDocument, error)

	// FilePathExists reports whether any row references the storage key.
	FilePathExists(ctx context.Context, path string) (bool, error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// ListQuery scopes a page of documents to one owner, optionally filtered by a
// case-insensitive title substring.
type ListQuery struct {
	PageQuery
	UserID string
	Title  string
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
