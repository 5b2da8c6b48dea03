package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// Cleanup deletes processed receipts past the processed-retention window and
// review/failed receipts past the review-retention window. A zero window
// disables that class of cleanup. Returns the total number deleted.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	var total int64
	now := time.Now()

	if p.cfg.RetentionProcessed > 0 {
		n, err := p.receipts.DeleteOlderThan(ctx, api.StatusProcessed, now.Add(-p.cfg.RetentionProcessed))
		if err != nil {
			return total, fmt.Errorf("cleaning up processed receipts: %w", err)
		}
		total += n
	}

	if p.cfg.RetentionReview > 0 {
		cutoff := now.Add(-p.cfg.RetentionReview)
		for _, status := range []api.ReceiptStatus{api.StatusNeedsReview, api.StatusFailed} {
			n, err := p.receipts.DeleteOlderThan(ctx, status, cutoff)
			if err != nil {
				return total, fmt.Errorf("cleaning up %s receipts: %w", status, err)
			}
			total += n
		}
	}

	if total > 0 {
		p.logger.Info("retention cleanup complete", "deleted", total)
	}
	return total, nil
}
