package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danthemanmcgee/Email-Receipts/pkg/config"
	"github.com/danthemanmcgee/Email-Receipts/pkg/reconcile"
	"github.com/danthemanmcgee/Email-Receipts/pkg/statement"
)

// runUpload processes one local PDF file as a direct receipt upload.
func runUpload(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: receiptsd upload <file> [card-id]")
	}
	var cardID int64
	if len(args) > 1 {
		var err error
		cardID, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid card id %q: %w", args[1], err)
		}
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	proc, _, closeStore, err := buildProcessor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	receipt, err := proc.ProcessUpload(ctx, content, cardID)
	if err != nil {
		return err
	}

	fmt.Printf("receipt %d  status=%s  confidence=%.2f\n",
		receipt.ID, receipt.Status, receipt.Confidence)
	if receipt.DrivePath != "" {
		fmt.Printf("stored at %s\n", receipt.DrivePath)
	}
	return nil
}

// runImport parses a statement file and writes it with all its lines.
func runImport(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: receiptsd import <card-id> <file>")
	}
	cardID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid card id %q: %w", args[0], err)
	}

	content, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[1], err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	importer := statement.NewImporter(store, store, logger)
	stmt, err := importer.Import(ctx, cfg.UserID, cardID, filepath.Base(args[1]), string(content), nil)
	if err != nil {
		return err
	}

	fmt.Printf("imported statement %d (%s, %d rows)\n", stmt.ID, stmt.Format, stmt.RowCount)
	return nil
}

func newReconciler(cfg *config.Config, logger *slog.Logger) (*reconcile.Reconciler, func(), error) {
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	r := reconcile.New(store, store, cfg.MatchThreshold, cfg.MatchLimit, logger)
	return r, store.Close, nil
}

// runReconcile prints every line of a statement with its match state and
// suggestions.
func runReconcile(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: receiptsd reconcile <statement-id>")
	}
	statementID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid statement id %q: %w", args[0], err)
	}

	r, closeStore, err := newReconciler(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	views, err := r.ReconcileData(ctx, statementID, cfg.UserID)
	if err != nil {
		return err
	}

	for _, v := range views {
		line := v.Line
		fmt.Printf("line %d  %s  %10.2f  %-30s  [%s]\n",
			line.ID, line.TxnDate.Format("2006-01-02"), line.Amount, line.Merchant, line.MatchStatus)
		switch {
		case v.MatchedReceipt != nil:
			fmt.Printf("    matched: receipt %d  %s  %s\n",
				v.MatchedReceipt.ID, v.MatchedReceipt.Merchant, v.MatchedReceipt.DrivePath)
		default:
			for _, s := range v.Suggestions {
				fmt.Printf("    %.3f  receipt %d  %s\n", s.Score, s.Receipt.ID, s.Receipt.Merchant)
			}
		}
	}
	return nil
}

// runMatchAction applies a link, unlink or ignore action to a statement line.
func runMatchAction(ctx context.Context, cfg *config.Config, logger *slog.Logger, action string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: receiptsd %s <line-id> [receipt-id]", action)
	}
	lineID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid line id %q: %w", args[0], err)
	}

	r, closeStore, err := newReconciler(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	switch action {
	case "link":
		if len(args) < 2 {
			return fmt.Errorf("usage: receiptsd link <line-id> <receipt-id>")
		}
		receiptID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid receipt id %q: %w", args[1], err)
		}
		if err := r.Link(ctx, lineID, receiptID, cfg.UserID); err != nil {
			return err
		}
		fmt.Printf("line %d matched to receipt %d\n", lineID, receiptID)
	case "unlink":
		if err := r.Unlink(ctx, lineID, cfg.UserID); err != nil {
			return err
		}
		fmt.Printf("line %d unmatched\n", lineID)
	case "ignore":
		status, err := r.ToggleIgnore(ctx, lineID, cfg.UserID)
		if err != nil {
			return err
		}
		fmt.Printf("line %d is now %s\n", lineID, status)
	}
	return nil
}
