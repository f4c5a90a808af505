package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docingest/internal/repository"
	"docingest/internal/storage"
)

// SweepOptions controls one reconciliation pass.
type SweepOptions struct {
	Prefix      string
	GracePeriod time.Duration
	DryRun      bool
}

// SweepReport summarizes a reconciliation pass.
type SweepReport struct {
	Scanned  int `json:"scanned"`
	Young    int `json:"young"`
	Orphaned int `json:"orphaned"`
	Deleted  int `json:"deleted"`
	Failed   int `json:"failed"`
}

// Reconciler removes stored objects that never got a metadata row. It is the
// only code path that deletes objects.
type Reconciler struct {
	store storage.Storage
	repo  repository.DocumentRepository
	log   *zap.Logger
	now   func() time.Time
}

// NewReconciler builds a Reconciler over the bucket and the documents table.
func NewReconciler(store storage.Storage, repo repository.DocumentRepository, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store: store,
		repo:  repo,
		log:   log.With(zap.String("component", "reconcile")),
		now:   time.Now,
	}
}

// Sweep walks every object under opt.Prefix. Objects younger than the grace
// period are skipped because their upload may still be recording metadata.
// A failed delete is counted and the walk continues; a failed metadata lookup
// aborts the pass since nothing can be decided without it.
func (r *Reconciler) Sweep(ctx context.Context, opt SweepOptions) (*SweepReport, error) {
	report := &SweepReport{}
	cutoff := r.now().Add(-opt.GracePeriod)

	err := r.store.Walk(ctx, opt.Prefix, func(obj storage.ObjectInfo) error {
		report.Scanned++
		if obj.LastModified.After(cutoff) {
			report.Young++
			return nil
		}

		exists, err := r.repo.FilePathExists(ctx, obj.Key)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", obj.Key, err)
		}
		if exists {
			return nil
		}

		report.Orphaned++
		fields := []zap.Field{
			zap.String("file_path", obj.Key),
			zap.Int64("file_size", obj.Size),
			zap.Time("last_modified", obj.LastModified),
		}
		if opt.DryRun {
			r.log.Info("orphan_found", append(fields, zap.Bool("dry_run", true))...)
			return nil
		}
		if err := r.store.Delete(ctx, obj.Key); err != nil {
			report.Failed++
			r.log.Warn("orphan_delete_failed", append(fields, zap.Error(err))...)
			return nil
		}
		report.Deleted++
		r.log.Info("orphan_deleted", fields...)
		return nil
	})
	if err != nil {
		return report, err
	}

	r.log.Info("sweep_completed",
		zap.String("prefix", opt.Prefix),
		zap.Bool("dry_run", opt.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("young", report.Young),
		zap.Int("orphaned", report.Orphaned),
		zap.Int("deleted", report.Deleted),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
