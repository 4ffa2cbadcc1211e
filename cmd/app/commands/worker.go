package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/allisson/callsync/internal/app"
	"github.com/allisson/callsync/internal/config"
)

// RunWorker starts the task queue worker loops.
// Runs WorkerConcurrency polling loops that claim and execute queued tasks,
// blocking until SIGINT/SIGTERM. Loops coordinate only through the claim
// query, so several worker processes can run side by side.
func RunWorker(ctx context.Context, version string) error {
	// Load configuration
	cfg := config.Load()

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()
	logger.Info("starting worker",
		slog.String("version", version),
		slog.Int("concurrency", cfg.WorkerConcurrency),
	)

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	worker, err := container.Worker()
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		group.Go(func() error {
			return worker.Start(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("worker error: %w", err)
	}

	logger.Info("worker stopped")
	return nil
}
