// Package main provides the orphan reconciliation CLI for stored documents.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docingest/internal/config"
	"docingest/internal/database"
	"docingest/internal/logging"
	"docingest/internal/naming"
	"docingest/internal/repository/postgres"
	"docingest/internal/service"
	"docingest/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "docingest-reconcile",
	Short: "Maintenance tasks for the document store",
	Long:  "CLI tool for finding and removing stored objects that never got a metadata row",
}

var sweepOpts struct {
	dryRun bool
	prefix string
	owner  string
	grace  time.Duration
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stored objects with no matching document row",
	Long: `Walks the bucket and deletes every object older than the grace period
whose key is not recorded as a document file_path.

An upload that failed while recording metadata leaves such an object behind;
the API never deletes them itself.

Environment variables:
  DB_*                     PostgreSQL connection settings
  MINIO_*                  object storage settings
  RECONCILE_GRACE_PERIOD   default for --grace (default: 1h)`,
	RunE: runSweep,
}

func init() {
	cfg := config.Load()
	sweepCmd.Flags().BoolVar(&sweepOpts.dryRun, "dry-run", false, "report orphans without deleting them")
	sweepCmd.Flags().StringVar(&sweepOpts.prefix, "prefix", "", "only consider keys under this prefix (e.g. a user id followed by /)")
	sweepCmd.Flags().StringVar(&sweepOpts.owner, "owner", "", "only consider one user's objects; overrides --prefix")
	sweepCmd.Flags().DurationVar(&sweepOpts.grace, "grace", cfg.Reconcile.GracePeriod, "skip objects younger than this")
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	prefix := sweepOpts.prefix
	if sweepOpts.owner != "" {
		prefix = naming.OwnerPrefix(sweepOpts.owner)
	}

	rec := service.NewReconciler(objStore, postgres.NewDocumentPostgres(db), log)
	report, err := rec.Sweep(ctx, service.SweepOptions{
		Prefix:      prefix,
		GracePeriod: sweepOpts.grace,
		DryRun:      sweepOpts.dryRun,
	})
	if err != nil {
		log.Error("sweep_failed", zap.Error(err))
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
