package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
	"github.com/danthemanmcgee/Email-Receipts/pkg/extract"
)

var pdfMagic = []byte("%PDF")

// ErrNotPDF is returned when uploaded bytes are not a PDF document.
var ErrNotPDF = errors.New("only PDF uploads are accepted")

// ErrTooLarge is returned when an upload exceeds the configured size cap.
var ErrTooLarge = errors.New("upload exceeds the maximum allowed size")

// ProcessUpload runs directly uploaded PDF bytes through dedup, extraction,
// card resolution and storage, under a synthetic source identifier. cardID
// overrides card resolution when non-zero. A duplicate upload returns the
// existing canonical receipt.
func (p *Processor) ProcessUpload(ctx context.Context, content []byte, cardID int64) (*api.Receipt, error) {
	if !bytes.HasPrefix(content, pdfMagic) {
		return nil, ErrNotPDF
	}
	if p.cfg.MaxAttachmentSize > 0 && int64(len(content)) > p.cfg.MaxAttachmentSize {
		return nil, ErrTooLarge
	}

	hash := hashBytes(content)
	existing, err := p.receipts.FindByContentHash(ctx, p.cfg.UserID, hash, 0)
	if err != nil {
		return nil, fmt.Errorf("checking content hash: %w", err)
	}
	if existing != nil {
		p.logger.Info("duplicate upload, reusing receipt",
			"receipt_id", existing.ID, "content_hash", hash)
		return existing, nil
	}

	result := p.pdf.FromPDF(ctx, content)

	// Explicit card choice takes precedence over extraction.
	var card *api.PhysicalCard
	if cardID != 0 {
		card, err = p.cards.GetCard(ctx, cardID, p.cfg.UserID)
		if err != nil {
			return nil, fmt.Errorf("loading card %d: %w", cardID, err)
		}
		if card == nil {
			return nil, fmt.Errorf("card %d not found", cardID)
		}
	} else if result.CardLast4 != "" {
		card, _, err = p.resolver.Resolve(ctx, result.CardLast4)
		if err != nil {
			p.logger.Warn("card resolution failed for upload", "error", err)
		}
	}

	sourceID := "upload_" + uuid.New().String()
	receipt := &api.Receipt{
		UserID:          p.cfg.UserID,
		SourceMessageID: sourceID,
		ContentHash:     hash,
	}
	applyResult(receipt, result)
	receipt.SourceType = extract.SourceDirectUpload
	if card != nil {
		receipt.PhysicalCardID = card.ID
	}

	if err := p.store(ctx, receipt, card, content, sourceID); err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	p.finalize(receipt)
	if err := p.receipts.CreateReceipt(ctx, receipt); err != nil {
		var dup *api.DuplicateContentError
		if errors.As(err, &dup) {
			// Raced with another upload of the same bytes.
			canonical, ferr := p.receipts.FindByContentHash(ctx, p.cfg.UserID, hash, 0)
			if ferr == nil && canonical != nil {
				return canonical, nil
			}
		}
		return nil, fmt.Errorf("creating receipt: %w", err)
	}

	p.logger.Info("processed upload",
		"receipt_id", receipt.ID,
		"status", receipt.Status,
		"confidence", receipt.Confidence,
	)
	return receipt, nil
}
