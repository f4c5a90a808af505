package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"docingest/internal/auth"
	"docingest/internal/config"
	"docingest/internal/embedding"
	"docingest/internal/events"
	"docingest/internal/logging"
	"docingest/internal/metrics"
	"docingest/internal/model"
	"docingest/internal/naming"
	"docingest/internal/repository"
	"docingest/internal/storage"
)

// Stage is a state of the ingestion pipeline. An IngestError carries the
// stage the pipeline was trying to reach when it failed.
type Stage string

const (
	StageReceived      Stage = "received"
	StageAuthorized    Stage = "authorized"
	StagePathAllocated Stage = "path_allocated"
	StageStored        Stage = "stored"
	StageEmbedded      Stage = "embedded"
	StageRecorded      Stage = "recorded"
	StageCompleted     Stage = "completed"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrIdentityUnavailable = errors.New("identity service unavailable")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrStorageConflict     = errors.New("storage key conflict")
	ErrStorageFailure      = errors.New("storage write failed")
	ErrEmbeddingFailure    = errors.New("embedding failed")
	// ErrOrphanedObject means the object was stored but its metadata row was not.
	ErrOrphanedObject = errors.New("orphaned object")
)

// IngestError is returned by Ingest for every failed request. errors.Is
// matches both Kind and the underlying cause.
type IngestError struct {
	Stage    Stage
	Kind     error
	FilePath string
	Err      error
}

func (e *IngestError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ingest %s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("ingest %s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *IngestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IngestRequest is one upload. Body is nil when the request carried no file.
// Size is the declared length, or -1 when unknown.
type IngestRequest struct {
	Credential  string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// IngestResult describes the recorded document.
type IngestResult struct {
	DocumentID string
	FilePath   string
	Title      string
	FileSize   int64
	Embedded   bool
	CreatedAt  time.Time
}

// IngestionService runs the upload pipeline for a single request.
type IngestionService interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

// IngestOptions tunes the pipeline. Zero timeouts disable the per-stage bound.
type IngestOptions struct {
	Policy           config.EmbeddingPolicy
	AuthTimeout      time.Duration
	StorageTimeout   time.Duration
	EmbeddingTimeout time.Duration
	MetadataTimeout  time.Duration
	MaxInputBytes    int
	RetryOnConflict  bool
}

// IngestOptionsFromConfig collects the pipeline settings spread across cfg.
func IngestOptionsFromConfig(cfg *config.AppConfig) IngestOptions {
	return IngestOptions{
		Policy:           cfg.Embedding.Policy,
		AuthTimeout:      cfg.Auth.Timeout,
		StorageTimeout:   cfg.Ingest.StorageTimeout,
		EmbeddingTimeout: cfg.Embedding.Timeout,
		MetadataTimeout:  cfg.Ingest.MetadataTimeout,
		MaxInputBytes:    cfg.Embedding.MaxInputBytes,
		RetryOnConflict:  cfg.Ingest.RetryOnConflict,
	}
}

// IngestDeps are the collaborators of the pipeline. Publisher and Metrics may be nil.
type IngestDeps struct {
	Verifier  auth.Verifier
	Storage   storage.Storage
	Embedder  embedding.Embedder
	Repo      repository.DocumentRepository
	Publisher events.Publisher
	Metrics   *metrics.IngestMetrics
	Logger    *zap.Logger
}

type ingestionService struct {
	verifier auth.Verifier
	store    storage.Storage
	embedder embedding.Embedder
	repo     repository.DocumentRepository
	pub      events.Publisher
	metrics  *metrics.IngestMetrics
	log      *zap.Logger
	tracer   trace.Tracer
	opts     IngestOptions
	newKey   func(owner, ext string) string
}

// NewIngestionService constructs the pipeline.
func NewIngestionService(deps IngestDeps, opts IngestOptions) IngestionService {
	pub := deps.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Policy == "" {
		opts.Policy = config.EmbeddingPolicyDegrade
	}
	return &ingestionService{
		verifier: deps.Verifier,
		store:    deps.Storage,
		embedder: deps.Embedder,
		repo:     deps.Repo,
		pub:      pub,
		metrics:  deps.Metrics,
		log:      log.With(zap.String("component", "ingest")),
		tracer:   otel.Tracer("docingest/internal/service"),
		opts:     opts,
		newKey:   naming.AllocateKey,
	}
}

// Ingest runs every stage in order and stops at the first failure. The work is
// detached from ctx cancellation so a disconnecting client cannot leave the
// object stored without its row; each stage is bounded by its own timeout.
func (s *ingestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "ingest")
	defer span.End()

	log := logging.FromContext(ctx, s.log)
	started := time.Now()
	log.Debug("ingest_stage", zap.String("stage", string(StageReceived)))

	res, err := s.run(ctx, log, req)
	if err != nil {
		var ie *IngestError
		if !errors.As(err, &ie) {
			ie = &IngestError{Stage: StageReceived, Kind: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ie.Stage))
		s.metrics.Outcome(OutcomeCode(err))

		fields := []zap.Field{
			zap.String("stage", string(ie.Stage)),
			zap.String("code", OutcomeCode(err)),
			zap.String("file_path", ie.FilePath),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
			zap.Error(err),
		}
		if errors.Is(err, ErrOrphanedObject) {
			log.Error("ingest_failed", fields...)
		} else {
			log.Warn("ingest_failed", fields...)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("document.id", res.DocumentID),
		attribute.Bool("document.embedded", res.Embedded),
	)
	s.metrics.Outcome(string(StageCompleted))
	log.Info("ingest_completed",
		zap.String("document_id", res.DocumentID),
		zap.String("file_path", res.FilePath),
		zap.Int64("file_size", res.FileSize),
		zap.Bool("embedded", res.Embedded),
		zap.Int64("duration_ms", time.Since(started).Milliseconds()),
	)
	return res, nil
}

func (s *ingestionService) run(ctx context.Context, log *zap.Logger, req IngestRequest) (*IngestResult, error) {
	// authorized
	var ident auth.Identity
	err := s.stage(ctx, StageAuthorized, s.opts.AuthTimeout, func(ctx context.Context) error {
		var err error
		ident, err = s.verifier.Verify(ctx, req.Credential)
		return err
	})
	if err != nil {
		kind := ErrIdentityUnavailable
		if errors.Is(err, auth.ErrUnauthorized) {
			kind = ErrUnauthorized
		}
		return nil, &IngestError{Stage: StageAuthorized, Kind: kind, Err: err}
	}
	log = log.With(zap.String("user_id", ident.UserID))

	// path_allocated
	if req.Body == nil {
		return nil, &IngestError{Stage: StagePathAllocated, Kind: ErrInvalidRequest, Err: errors.New("expected exactly one file")}
	}
	name, err := naming.Sanitize(req.Filename)
	if err != nil {
		return nil, &IngestError{Stage: StagePathAllocated, Kind: ErrInvalidRequest, Err: err}
	}
	key := s.newKey(ident.UserID, name.Ext)
	log.Debug("ingest_stage", zap.String("stage", string(StagePathAllocated)), zap.String("file_path", key))

	// stored
	head := &headBuffer{max: s.opts.MaxInputBytes}
	key, written, err := s.put(ctx, log, req, ident.UserID, name, key, head)
	if err != nil {
		return nil, err
	}
	s.metrics.UploadSize(written)
	log.Debug("ingest_stage", zap.String("stage", string(StageStored)), zap.String("file_path", key), zap.Int64("file_size", written))

	doc := &model.Document{
		Title:       name.Title,
		FilePath:    key,
		ContentType: req.ContentType,
		FileSize:    written,
		UserID:      ident.UserID,
	}

	// embedded
	input := embedding.BuildInput(embedding.Source{
		Title:       name.Title,
		ContentType: req.ContentType,
		Head:        head.Bytes(),
	})
	err = s.stage(ctx, StageEmbedded, s.opts.EmbeddingTimeout, func(ctx context.Context) error {
		vec, err := s.embedder.Embed(ctx, input)
		if err != nil {
			return err
		}
		doc.Embedding = vec
		return nil
	})
	switch {
	case err == nil:
		s.metrics.Embedding("ok")
	case s.opts.Policy == config.EmbeddingPolicyFail:
		s.metrics.Embedding("failed")
		s.publishOrphan(ctx, log, doc, "embedding_failed")
		return nil, &IngestError{Stage: StageEmbedded, Kind: ErrEmbeddingFailure, FilePath: key, Err: err}
	default:
		s.metrics.Embedding("degraded")
		log.Warn("embedding_degraded", zap.String("file_path", key), zap.Error(err))
	}

	// recorded
	var stored *model.Document
	err = s.stage(ctx, StageRecorded, s.opts.MetadataTimeout, func(ctx context.Context) error {
		var err error
		stored, err = s.repo.Create(ctx, doc)
		return err
	})
	if err != nil {
		s.publishOrphan(ctx, log, doc, "metadata_failed")
		return nil, &IngestError{Stage: StageRecorded, Kind: ErrOrphanedObject, FilePath: key, Err: err}
	}

	s.publish(ctx, log, events.Event{
		Type:         events.TypeDocumentIngested,
		DocumentID:   stored.ID,
		FilePath:     stored.FilePath,
		UserID:       stored.UserID,
		Title:        stored.Title,
		ContentType:  stored.ContentType,
		FileSize:     stored.FileSize,
		HasEmbedding: stored.HasEmbedding(),
		RequestID:    logging.RequestID(ctx),
	})

	return &IngestResult{
		DocumentID: stored.ID,
		FilePath:   stored.FilePath,
		Title:      stored.Title,
		FileSize:   stored.FileSize,
		Embedded:   stored.HasEmbedding(),
		CreatedAt:  stored.CreatedAt,
	}, nil
}

// put writes the body under key. A key conflict is retried once under a
// fresh key when enabled and the body can be rewound.
func (s *ingestionService) put(ctx context.Context, log *zap.Logger, req IngestRequest, owner string, name naming.Filename, key string, head *headBuffer) (string, int64, error) {
	seeker, canRewind := req.Body.(io.Seeker)
	attempts := 1
	if s.opts.RetryOnConflict && canRewind {
		attempts = 2
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				return "", 0, &IngestError{Stage: StageStored, Kind: ErrStorageConflict, FilePath: key, Err: errors.Join(err, fmt.Errorf("rewind body: %w", serr))}
			}
			head.Reset()
			prev := key
			key = s.newKey(owner, name.Ext)
			log.Info("storage_conflict_retry", zap.String("previous_file_path", prev), zap.String("file_path", key))
		}

		counter := &countingReader{r: io.TeeReader(req.Body, head)}
		err = s.stage(ctx, StageStored, s.opts.StorageTimeout, func(ctx context.Context) error {
			_, err := s.store.Put(ctx, key, counter, storage.PutObjectOptions{
				Size:        req.Size,
				ContentType: req.ContentType,
				Metadata: map[string]string{
					"original-filename": name.Title,
					"owner":             owner,
				},
			})
			return err
		})
		if err == nil {
			return key, counter.n, nil
		}
		if !errors.Is(err, storage.ErrObjectExists) {
			return "", 0, &IngestError{Stage: StageStored, Kind: ErrStorageFailure, FilePath: key, Err: err}
		}
	}
	return "", 0, &IngestError{Stage: StageStored, Kind: ErrStorageConflict, FilePath: key, Err: err}
}

func (s *ingestionService) stage(ctx context.Context, name Stage, timeout time.Duration, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "ingest."+string(name))
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	err := fn(ctx)
	s.metrics.ObserveStage(string(name), started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *ingestionService) publishOrphan(ctx context.Context, log *zap.Logger, doc *model.Document, reason string) {
	s.publish(ctx, log, events.Event{
		Type:        events.TypeObjectOrphaned,
		FilePath:    doc.FilePath,
		UserID:      doc.UserID,
		Title:       doc.Title,
		ContentType: doc.ContentType,
		FileSize:    doc.FileSize,
		Reason:      reason,
		RequestID:   logging.RequestID(ctx),
	})
}

// publish never fails the request.
func (s *ingestionService) publish(ctx context.Context, log *zap.Logger, e events.Event) {
	timeout := s.opts.MetadataTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.pub.Publish(ctx, e); err != nil {
		log.Warn("event_publish_failed", zap.String("type", e.Type), zap.String("file_path", e.FilePath), zap.Error(err))
	}
}

// OutcomeCode maps a pipeline error to its stable error code.
func OutcomeCode(err error) string {
	switch {
	case err == nil:
		return string(StageCompleted)
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrIdentityUnavailable):
		return "IDENTITY_UNAVAILABLE"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrStorageConflict):
		return "STORAGE_CONFLICT"
	case errors.Is(err, ErrStorageFailure):
		return "STORAGE_FAILURE"
	case errors.Is(err, ErrEmbeddingFailure):
		return "EMBEDDING_FAILURE"
	case errors.Is(err, ErrOrphanedObject):
		return "ORPHANED_OBJECT"
	default:
		return "INTERNAL"
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// headBuffer keeps the first max bytes written to it and drops the rest.
type headBuffer struct {
	buf bytes.Buffer
	max int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.max - h.buf.Len(); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf.Write(p[:room])
	}
	return len(p), nil
}

func (h *headBuffer) Bytes() []byte { return h.buf.Bytes() }

func (h *headBuffer) Reset() { h.buf.Reset() }
