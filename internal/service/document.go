package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docingest/internal/embedding"
	"docingest/internal/model"
	"docingest/internal/repository"
	"docingest/internal/storage"
)

var (
	ErrIDRequired    = errors.New("id is required")
	ErrNotFound      = errors.New("document not found")
	ErrQueryRequired = errors.New("query is required")
	ErrNoEmbedding   = errors.New("document has no embedding")
)

const (
	defaultListLimit    = 10
	maxListLimit        = 100
	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

// DocumentView is a document as returned to its owner.
type DocumentView struct {
	model.Document
	HasEmbedding bool   `json:"has_embedding"`
	DownloadURL  string `json:"download_url,omitempty"`
}

// ScoredView is a similarity match as returned to its owner.
type ScoredView struct {
	DocumentView
	Score float64 `json:"score"`
}

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []DocumentView `json:"data"`
	Total int            `json:"total"`
}

// DocumentContent is an open download. The caller must close Body.
type DocumentContent struct {
	Document DocumentView
	Body     io.ReadCloser
	Size     int64
}

// ListParams selects a page of the caller's documents.
type ListParams struct {
	Limit  int
	Offset int
	Title  string
}

// DocumentService defines the read-side use cases. Every call is scoped to
// the verified owner; another user's document is indistinguishable from a
// missing one.
type DocumentService interface {
	// List returns documents using limit/offset and a total count.
	List(ctx context.Context, userID string, p ListParams) (*DocumentListResult, error)

	// Get returns a single document with a presigned download URL.
	Get(ctx context.Context, userID, id string) (*DocumentView, error)

	// Open streams the stored bytes of a document.
	Open(ctx context.Context, userID, id string) (*DocumentContent, error)

	// Similar returns the owner's documents closest to the given one.
	Similar(ctx context.Context, userID, id string, limit int) ([]ScoredView, error)

	// Search embeds query and returns the owner's closest documents.
	Search(ctx context.Context, userID, query string, limit int) ([]ScoredView, error)
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store      storage.Storage
	repo       repository.DocumentRepository
	embedder   embedding.Embedder
	presignTTL time.Duration
	log        *zap.Logger
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, embedder embedding.Embedder, presignTTL time.Duration, log *zap.Logger) DocumentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &documentService{
		store:      store,
		repo:       repo,
		embedder:   embedder,
		presignTTL: presignTTL,
		log:        log.With(zap.String("component", "documents")),
	}
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, userID string, p ListParams) (*DocumentListResult, error) {
	limit := clamp(p.Limit, defaultListLimit, maxListLimit)
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.ListQuery{
		UserID:    userID,
		Title:     strings.TrimSpace(p.Title),
		PageQuery: repository.PageQuery{Limit: limit, Offset: offset},
	})
	if err != nil {
		return nil, err
	}

	items := make([]DocumentView, 0, len(res.Items))
	for _, d := range res.Items {
		items = append(items, view(d))
	}
	return &DocumentListResult{Items: items, Total: res.Total}, nil
}

// Get returns a document by ID.
func (s *documentService) Get(ctx context.Context, userID, id string) (*DocumentView, error) {
	doc, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	v := view(*doc)
	if s.presignTTL > 0 {
		url, err := s.store.PresignGet(ctx, doc.FilePath, s.presignTTL)
		if err != nil {
			return nil, fmt.Errorf("presign download: %w", err)
		}
		v.DownloadURL = url
	}
	return &v, nil
}

func (s *documentService) Open(ctx context.Context, userID, id string) (*DocumentContent, error) {
	doc, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	rc, info, err := s.store.Get(ctx, doc.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Error("object_missing", zap.String("document_id", doc.ID), zap.String("file_path", doc.FilePath))
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return &DocumentContent{Document: view(*doc), Body: rc, Size: info.Size}, nil
}

func (s *documentService) Similar(ctx context.Context, userID, id string, limit int) ([]ScoredView, error) {
	doc, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !doc.HasEmbedding() {
		return nil, ErrNoEmbedding
	}

	matches, err := s.repo.SearchSimilar(ctx, userID, doc.Embedding, doc.ID, clamp(limit, defaultSimilarLimit, maxSimilarLimit))
	if err != nil {
		return nil, err
	}
	return scoredViews(matches), nil
}

func (s *documentService) Search(ctx context.Context, userID, query string, limit int) ([]ScoredView, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrQueryRequired
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.Warn("search_embedding_failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}

	matches, err := s.repo.SearchSimilar(ctx, userID, vec, "", clamp(limit, defaultSimilarLimit, maxSimilarLimit))
	if err != nil {
		return nil, err
	}
	return scoredViews(matches), nil
}

func (s *documentService) find(ctx context.Context, userID, id string) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	// Rows are keyed by UUID; anything else cannot exist.
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	doc, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func view(d model.Document) DocumentView {
	return DocumentView{Document: d, HasEmbedding: d.HasEmbedding()}
}

func scoredViews(in []model.ScoredDocument) []ScoredView {
	out := make([]ScoredView, 0, len(in))
	for _, m := range in {
		out = append(out, ScoredView{DocumentView: view(m.Document), Score: m.Score})
	}
	return out
}

func clamp(v, def, upper int) int {
	if v <= 0 {
		return def
	}
	if v > upper {
		return upper
	}
	return v
}
