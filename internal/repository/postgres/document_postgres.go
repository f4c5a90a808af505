package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"docingest/internal/model"
	"docingest/internal/repository"
)

const uniqueViolation = "23505"

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const documentColumns = `id, title, file_path, content_type, file_size, embedding, user_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner, extra ...any) (model.Document, error) {
	var (
		d   model.Document
		vec *pgvector.Vector
	)
	dest := append([]any{
		&d.ID,
		&d.Title,
		&d.FilePath,
		&d.ContentType,
		&d.FileSize,
		&vec,
		&d.UserID,
		&d.CreatedAt,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return model.Document{}, err
	}
	if vec != nil {
		d.Embedding = vec.Slice()
	}
	return d, nil
}

// Create inserts a new document row and returns the stored record.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const q = `
		INSERT INTO documents (title, file_path, content_type, file_size, embedding, user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	var embedding any
	if len(doc.Embedding) > 0 {
		embedding = pgvector.NewVector(doc.Embedding)
	}

	out := *doc
	err := r.db.QueryRowContext(ctx, q,
		doc.Title,
		doc.FilePath,
		doc.ContentType,
		doc.FileSize,
		embedding,
		doc.UserID,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, repository.ErrDuplicatePath
		}
		return nil, err
	}
	return &out, nil
}

// FindByID fetches a single document by its ID, scoped to its owner.
func (r *DocumentPostgres) FindByID(ctx context.Context, userID, id string) (*model.Document, error) {
	const q = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1 AND user_id = $2
	`
	d, err := scanDocument(r.db.QueryRowContext(ctx, q, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// List returns documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) List(ctx context.Context, lq repository.ListQuery) (*repository.PageResult[model.Document], error) {
	pattern := ""
	if lq.Title != "" {
		pattern = "%" + escapeLike(lq.Title) + "%"
	}

	// Count total rows
	const qCount = `
		SELECT COUNT(*) FROM documents
		WHERE user_id = $1 AND ($2 = '' OR title ILIKE $2)
	`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, lq.UserID, pattern).Scan(&total); err != nil {
		return nil, err
	}

	// Fetch page
	const qList = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE user_id = $1 AND ($2 = '' OR title ILIKE $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.QueryContext(ctx, qList, lq.UserID, pattern, lq.Limit, lq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// SearchSimilar ranks the owner's embedded documents by cosine distance to vec.
func (r *DocumentPostgres) SearchSimilar(ctx context.Context, userID string, vec []float32, excludeID string, limit int) ([]model.ScoredDocument, error) {
	const q = `
		SELECT ` + documentColumns + `, 1 - (embedding <=> $2) AS score
		FROM documents
		WHERE user_id = $1 AND embedding IS NOT NULL AND ($3 = '' OR id::text <> $3)
		ORDER BY embedding <=> $2
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, q, userID, pgvector.NewVector(vec), excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ScoredDocument, 0, limit)
	for rows.Next() {
		var score float64
		d, err := scanDocument(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ScoredDocument{Document: d, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FilePathExists reports whether a row references the storage key.
func (r *DocumentPostgres) FilePathExists(ctx context.Context, path string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM documents WHERE file_path = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, path).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
