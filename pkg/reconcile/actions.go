package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// Reconciler performs match actions on statement lines and builds suggestion
// sets. All operations are owner-scoped.
type Reconciler struct {
	statements api.StatementStore
	receipts   api.ReceiptStore
	threshold  float64
	limit      int
	logger     *slog.Logger
}

// LineView is one statement line with its reconciliation context.
type LineView struct {
	Line           api.StatementLine
	MatchedReceipt *api.Receipt
	Suggestions    []Suggestion
}

// New builds a Reconciler. threshold and limit fall back to the package
// defaults when zero.
func New(statements api.StatementStore, receipts api.ReceiptStore, threshold float64, limit int, logger *slog.Logger) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		statements: statements,
		receipts:   receipts,
		threshold:  threshold,
		limit:      limit,
		logger:     logger.With("component", "reconciler"),
	}
}

// ReconcileData returns every line of a statement with its matched receipt
// or, for lines that are neither matched nor ignored, up to limit
// suggestions drawn from the user's stored receipts.
func (r *Reconciler) ReconcileData(ctx context.Context, statementID, userID int64) ([]LineView, error) {
	lines, err := r.statements.ListLines(ctx, statementID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing statement lines: %w", err)
	}

	stored, err := r.receipts.ListStored(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing stored receipts: %w", err)
	}

	views := make([]LineView, 0, len(lines))
	for _, line := range lines {
		view := LineView{Line: line}
		switch {
		case line.MatchStatus == api.MatchMatched && line.MatchedReceiptID != 0:
			receipt, err := r.statements.GetReceiptForMatch(ctx, line.MatchedReceiptID, userID)
			if err != nil {
				return nil, fmt.Errorf("loading matched receipt for line %d: %w", line.ID, err)
			}
			view.MatchedReceipt = receipt
		case line.MatchStatus != api.MatchIgnored:
			view.Suggestions = Suggest(&line, stored, r.threshold, r.limit)
		}
		views = append(views, view)
	}
	return views, nil
}

// Link attaches a receipt to a statement line, replacing any existing match.
// Only receipts with a storage pointer may be linked.
func (r *Reconciler) Link(ctx context.Context, lineID, receiptID, userID int64) error {
	line, err := r.statements.GetLine(ctx, lineID, userID)
	if err != nil {
		return fmt.Errorf("loading statement line: %w", err)
	}
	if line == nil {
		return fmt.Errorf("statement line %d not found", lineID)
	}

	receipt, err := r.statements.GetReceiptForMatch(ctx, receiptID, userID)
	if err != nil {
		return fmt.Errorf("loading receipt: %w", err)
	}
	if receipt == nil || !receipt.Stored() {
		return fmt.Errorf("receipt %d not found or not stored", receiptID)
	}

	if err := r.statements.LinkReceipt(ctx, lineID, receiptID, userID); err != nil {
		return fmt.Errorf("linking receipt %d to line %d: %w", receiptID, lineID, err)
	}

	r.logger.Info("linked receipt to statement line", "line_id", lineID, "receipt_id", receiptID)
	return nil
}

// Unlink removes the match from a line and resets it to unmatched.
func (r *Reconciler) Unlink(ctx context.Context, lineID, userID int64) error {
	line, err := r.statements.GetLine(ctx, lineID, userID)
	if err != nil {
		return fmt.Errorf("loading statement line: %w", err)
	}
	if line == nil {
		return fmt.Errorf("statement line %d not found", lineID)
	}

	if err := r.statements.UnlinkReceipt(ctx, lineID, userID); err != nil {
		return fmt.Errorf("unlinking line %d: %w", lineID, err)
	}

	r.logger.Info("unlinked statement line", "line_id", lineID)
	return nil
}

// ToggleIgnore flips a line between ignored and unmatched. Ignoring a
// matched line unlinks its receipt first, so the toggle never leaves a
// dangling match. Returns the new match status.
func (r *Reconciler) ToggleIgnore(ctx context.Context, lineID, userID int64) (api.MatchStatus, error) {
	line, err := r.statements.GetLine(ctx, lineID, userID)
	if err != nil {
		return "", fmt.Errorf("loading statement line: %w", err)
	}
	if line == nil {
		return "", fmt.Errorf("statement line %d not found", lineID)
	}

	if line.MatchStatus == api.MatchIgnored {
		if err := r.statements.SetIgnored(ctx, lineID, userID, false); err != nil {
			return "", fmt.Errorf("unignoring line %d: %w", lineID, err)
		}
		return api.MatchUnmatched, nil
	}

	if line.MatchStatus == api.MatchMatched {
		if err := r.statements.UnlinkReceipt(ctx, lineID, userID); err != nil {
			return "", fmt.Errorf("unlinking line %d before ignore: %w", lineID, err)
		}
	}
	if err := r.statements.SetIgnored(ctx, lineID, userID, true); err != nil {
		return "", fmt.Errorf("ignoring line %d: %w", lineID, err)
	}
	return api.MatchIgnored, nil
}
