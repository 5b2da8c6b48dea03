package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/config"
	"github.com/danthemanmcgee/Email-Receipts/pkg/pipeline"
)

const cleanupInterval = 24 * time.Hour

// runDaemon polls the mailbox on the configured interval and runs retention
// cleanup once a day until the context is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	proc, _, closeStore, err := buildProcessor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("daemon started",
		"poll_interval", cfg.PollInterval(),
		"user_id", cfg.UserID,
	)

	pollTicker := time.NewTicker(cfg.PollInterval())
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	// First pass right away; afterwards on the ticker.
	syncPass(ctx, proc, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping")
			return nil
		case <-pollTicker.C:
			syncPass(ctx, proc, logger)
		case <-cleanupTicker.C:
			if _, err := proc.Cleanup(ctx); err != nil {
				logger.Error("retention cleanup failed", "error", err)
			}
		}
	}
}

func syncPass(ctx context.Context, proc *pipeline.Processor, logger *slog.Logger) {
	outcomes, err := proc.SyncOnce(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("sync pass failed", "error", err)
		}
		return
	}

	counts := make(map[string]int)
	for _, out := range outcomes {
		counts[out.Status]++
	}
	if len(outcomes) > 0 {
		logger.Info("sync pass finished", "outcomes", counts)
	}
}

// runSync does one mailbox pass and exits.
func runSync(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	proc, _, closeStore, err := buildProcessor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	outcomes, err := proc.SyncOnce(ctx)
	if err != nil {
		return err
	}
	for _, out := range outcomes {
		logger.Info("message outcome",
			"message_id", out.MessageID,
			"status", out.Status,
			"receipt_id", out.ReceiptID,
		)
	}
	return nil
}

// runCleanup deletes receipts past their retention windows and exits.
func runCleanup(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	proc := pipeline.New(pipelineConfig(cfg), nil, nil, store, store, nil, logger)
	n, err := proc.Cleanup(ctx)
	if err != nil {
		return err
	}
	logger.Info("cleanup finished", "deleted", n)
	return nil
}
