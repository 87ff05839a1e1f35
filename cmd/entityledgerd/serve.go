package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/entityledger/core/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciler and change poller as background loops",
	Long: "serve starts the reconciler sweep and change poller on their configured " +
		"intervals and blocks until the process receives a shutdown signal. The write " +
		"pipeline and read path are Go APIs consumed by out-of-scope adapters, not " +
		"exposed here.",
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe fans the reconciler and poller loops out with an errgroup so
// either one's fatal error cancels the other, mirroring the teacher's
// direct golang.org/x/sync dependency used for daemon fan-out/fan-in.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runReconcileLoop(gctx, d, cfg.ReconcileInterval)
	})
	g.Go(func() error {
		return d.poller.Run(gctx)
	})

	return g.Wait()
}

// runReconcileLoop sweeps on a fixed interval until ctx is canceled,
// logging each sweep's report at debug level (reconciler.Sweep is
// idempotent, so a failed sweep is simply retried on the next tick
// rather than treated as fatal).
func runReconcileLoop(ctx context.Context, d *deps, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := d.reconciler.Sweep(ctx)
			log := telemetry.L(ctx)
			if err != nil {
				log.Warn("reconciler sweep failed", zap.Error(err))
				continue
			}
			log.Debug("reconciler sweep complete",
				zap.Int("metadata_inserted", report.MetadataInserted),
				zap.Int("published", report.Published),
				zap.Int("heads_advanced", report.HeadsAdvanced),
				zap.Int("abandoned", report.Abandoned))
		}
	}
}
