// Package pipeline drives a message or upload through attachment selection,
// field extraction, card resolution, deduplication and storage.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
	"github.com/danthemanmcgee/Email-Receipts/pkg/attach"
	"github.com/danthemanmcgee/Email-Receipts/pkg/cards"
	"github.com/danthemanmcgee/Email-Receipts/pkg/drive"
	"github.com/danthemanmcgee/Email-Receipts/pkg/extract"
)

// Labels applied to source messages after processing.
const (
	LabelProcessed   = "receipt/processed"
	LabelNeedsReview = "receipt/needs-review"
	LabelFailed      = "receipt/failed"
)

// Per-message outcomes reported by SyncOnce.
const (
	OutcomeProcessed     = "processed"
	OutcomeNeedsReview   = "needs_review"
	OutcomeFailed        = "failed"
	OutcomeDuplicate     = "duplicate"
	OutcomeSkipped       = "skipped"
	OutcomeSkippedSender = "skipped_sender"
)

// Config holds the pipeline tuning knobs.
type Config struct {
	// UserID owns every record the pipeline creates.
	UserID int64

	// ConfidenceThreshold is the minimum extraction confidence for a stored
	// receipt to be marked processed without review.
	ConfidenceThreshold float64

	// MaxAttachmentSize in bytes; larger attachments are skipped before
	// selection. Zero disables the cap.
	MaxAttachmentSize int64

	// RootFolder is the top-level storage folder receipts are filed under.
	RootFolder string

	// AllowedSenders restricts processing to these bare lowercase addresses
	// when non-empty.
	AllowedSenders []string

	// ListBatch caps how many messages one sync pass picks up. Zero means
	// the provider default.
	ListBatch int64

	// RetentionProcessed / RetentionReview bound how long processed and
	// review/failed receipts are kept before Cleanup deletes them.
	RetentionProcessed time.Duration
	RetentionReview    time.Duration
}

// Processor runs units of work against the capability boundaries. Each unit
// (one message, one upload) is independent; a failure in one never affects
// the others.
type Processor struct {
	cfg      Config
	mail     api.MailClient
	files    api.FileStore
	receipts api.ReceiptStore
	cards    api.CardStore
	resolver *cards.Resolver
	pdf      *extract.PDFExtractor
	logger   *slog.Logger
}

// Outcome is the per-message result of a sync pass.
type Outcome struct {
	MessageID string
	Status    string
	ReceiptID int64
	Err       error
}

// New builds a Processor.
func New(cfg Config, mail api.MailClient, files api.FileStore, receipts api.ReceiptStore,
	cardStore api.CardStore, pdf *extract.PDFExtractor, logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:      cfg,
		mail:     mail,
		files:    files,
		receipts: receipts,
		cards:    cardStore,
		resolver: cards.New(cardStore, cfg.UserID, logger),
		pdf:      pdf,
		logger:   logger.With("component", "pipeline"),
	}
}

// SyncOnce lists candidate messages and processes each one independently,
// continuing past individual failures.
func (p *Processor) SyncOnce(ctx context.Context) ([]Outcome, error) {
	ids, err := p.mail.ListNewMessages(ctx, p.cfg.ListBatch)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		out := p.ProcessMessage(ctx, id)
		if out.Err != nil {
			p.logger.Error("message processing failed",
				"message_id", id, "error", out.Err)
		}
		outcomes = append(outcomes, out)
	}

	p.logger.Info("sync pass complete", "messages", len(ids))
	return outcomes, nil
}

// ProcessMessage runs one inbound message through the pipeline. Safe to
// re-run: idempotency checks happen before any side effect.
func (p *Processor) ProcessMessage(ctx context.Context, messageID string) Outcome {
	out := Outcome{MessageID: messageID}

	// Message-level idempotency, cheapest checks first.
	link, err := p.receipts.GetSourceLink(ctx, messageID)
	if err != nil {
		out.Status, out.Err = OutcomeFailed, fmt.Errorf("checking source link: %w", err)
		return out
	}
	if link != nil {
		out.Status, out.ReceiptID = OutcomeSkipped, link.ReceiptID
		return out
	}

	existing, err := p.receipts.GetBySourceMessageID(ctx, messageID)
	if err != nil {
		out.Status, out.Err = OutcomeFailed, fmt.Errorf("checking existing receipt: %w", err)
		return out
	}
	if existing != nil && !existing.Status.Reprocessable() {
		out.Status, out.ReceiptID = OutcomeSkipped, existing.ID
		return out
	}

	msg, err := p.mail.GetMessage(ctx, messageID)
	if err != nil {
		receipt := existing
		if receipt == nil {
			receipt = &api.Receipt{UserID: p.cfg.UserID, SourceMessageID: messageID}
			if cerr := p.receipts.CreateReceipt(ctx, receipt); cerr != nil {
				out.Status, out.Err = OutcomeFailed, fmt.Errorf("creating receipt: %w", cerr)
				return out
			}
		}
		p.fail(ctx, receipt, "could not fetch source message: "+err.Error())
		out.Status, out.ReceiptID = OutcomeFailed, receipt.ID
		out.Err = fmt.Errorf("fetching message: %w", err)
		return out
	}

	if !p.senderAllowed(msg.Sender) {
		p.logger.Info("skipping message from sender outside allowlist",
			"message_id", messageID, "sender", api.SenderAddress(msg.Sender))
		out.Status = OutcomeSkippedSender
		return out
	}

	receipt := existing
	if receipt == nil {
		receipt = &api.Receipt{
			UserID:          p.cfg.UserID,
			SourceMessageID: messageID,
			Status:          api.StatusProcessing,
		}
	} else {
		receipt.Status = api.StatusProcessing
	}
	receipt.Subject = msg.Subject
	receipt.Sender = msg.Sender
	receipt.ReceivedAt = msg.ReceivedAt

	if receipt.ID == 0 {
		err = p.receipts.CreateReceipt(ctx, receipt)
	} else {
		err = p.receipts.UpdateReceipt(ctx, receipt)
	}
	if err != nil {
		out.Status, out.Err = OutcomeFailed, fmt.Errorf("persisting receipt: %w", err)
		return out
	}
	out.ReceiptID = receipt.ID

	candidates := make([]attach.Candidate, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		candidates = append(candidates, attach.Candidate{
			Filename:  a.Filename,
			Timestamp: msg.ReceivedAt,
			Size:      a.Size,
		})
	}
	winner, scored := attach.Select(candidates, p.cfg.MaxAttachmentSize)
	if len(scored) > 0 {
		if err := p.receipts.LogAttachmentDecisions(ctx, receipt.ID, attach.Decisions(scored)); err != nil {
			p.logger.Warn("failed to log attachment decisions",
				"receipt_id", receipt.ID, "error", err)
		}
	}

	var (
		result  extract.Result
		content []byte
	)
	if winner != nil {
		ref := findAttachment(msg.Attachments, winner.Filename)
		content, err = p.mail.GetAttachment(ctx, messageID, ref.AttachmentID)
		if err != nil {
			p.fail(ctx, receipt, "could not download attachment: "+err.Error())
			out.Status = OutcomeFailed
			out.Err = fmt.Errorf("downloading attachment: %w", err)
			return out
		}

		hash := hashBytes(content)
		canonical, err := p.receipts.FindByContentHash(ctx, p.cfg.UserID, hash, receipt.ID)
		if err != nil {
			out.Status, out.Err = OutcomeFailed, fmt.Errorf("checking content hash: %w", err)
			return out
		}
		if canonical != nil {
			return p.adopt(ctx, out, receipt.ID, canonical.ID, messageID)
		}

		receipt.ContentHash = hash
		result = p.pdf.FromPDF(ctx, content)
	} else {
		result = extract.FromText(msg.BodyText, extract.SourceEmailBody)
	}

	applyResult(receipt, result)

	card, _, err := p.resolver.Resolve(ctx, receipt.CardLast4Seen)
	if err != nil {
		p.logger.Warn("card resolution failed", "receipt_id", receipt.ID, "error", err)
	}
	if card != nil {
		receipt.PhysicalCardID = card.ID
	}

	if content != nil {
		if err := p.store(ctx, receipt, card, content, messageID); err != nil {
			p.fail(ctx, receipt, "storage failed: "+err.Error())
			out.Status = OutcomeFailed
			out.Err = fmt.Errorf("storing document: %w", err)
			return out
		}
	}

	p.finalize(receipt)
	if err := p.receipts.UpdateReceipt(ctx, receipt); err != nil {
		var dup *api.DuplicateContentError
		if errors.As(err, &dup) {
			// Lost a race on the content hash; the winner is canonical.
			canonical, ferr := p.receipts.FindByContentHash(ctx, p.cfg.UserID, receipt.ContentHash, receipt.ID)
			if ferr == nil && canonical != nil {
				return p.adopt(ctx, out, receipt.ID, canonical.ID, messageID)
			}
		}
		out.Status, out.Err = OutcomeFailed, fmt.Errorf("saving receipt: %w", err)
		return out
	}

	out.Status = string(receipt.Status)
	p.label(ctx, messageID, receipt.Status)
	if receipt.Status == api.StatusProcessed {
		if err := p.mail.Archive(ctx, messageID); err != nil {
			p.logger.Warn("failed to archive message", "message_id", messageID, "error", err)
		}
	}

	p.logger.Info("processed message",
		"message_id", messageID,
		"receipt_id", receipt.ID,
		"status", receipt.Status,
		"confidence", receipt.Confidence,
	)
	return out
}

// store resolves the destination, reuses an existing file when present and
// uploads otherwise. Folder creation and upload are both idempotent.
func (p *Processor) store(ctx context.Context, receipt *api.Receipt, card *api.PhysicalCard,
	content []byte, sourceID string,
) error {
	folderPath, filename := drive.BuildPath(card, receipt.PurchaseDate, receipt.Merchant,
		receipt.Amount, receipt.Currency, sourceID, p.cfg.RootFolder)

	folderID, err := p.files.EnsureFolder(ctx, folderPath)
	if err != nil {
		return fmt.Errorf("ensuring folder %q: %w", folderPath, err)
	}

	fileID, err := p.files.FileExists(ctx, folderID, filename)
	if err != nil {
		return fmt.Errorf("checking for existing file: %w", err)
	}
	if fileID == "" {
		fileID, err = p.files.UploadFile(ctx, content, folderID, filename)
		if err != nil {
			return fmt.Errorf("uploading %q: %w", filename, err)
		}
	}

	receipt.DriveFileID = fileID
	receipt.DrivePath = folderPath + "/" + filename
	return nil
}

// adopt replaces the in-flight placeholder with a link to the canonical
// receipt and finishes the message.
func (p *Processor) adopt(ctx context.Context, out Outcome, placeholderID, canonicalID int64, messageID string) Outcome {
	if err := p.receipts.AdoptDuplicate(ctx, placeholderID, canonicalID, messageID, p.cfg.UserID); err != nil {
		out.Status, out.Err = OutcomeFailed, fmt.Errorf("adopting duplicate: %w", err)
		return out
	}
	out.Status, out.ReceiptID = OutcomeDuplicate, canonicalID

	p.label(ctx, messageID, api.StatusProcessed)
	if err := p.mail.Archive(ctx, messageID); err != nil {
		p.logger.Warn("failed to archive duplicate message", "message_id", messageID, "error", err)
	}

	p.logger.Info("duplicate content, reusing canonical receipt",
		"message_id", messageID,
		"canonical_receipt_id", canonicalID,
	)
	return out
}

// finalize sets the terminal status. Only a stored document with confident
// extraction skips review.
func (p *Processor) finalize(receipt *api.Receipt) {
	if receipt.Confidence >= p.cfg.ConfidenceThreshold && receipt.Stored() {
		receipt.Status = api.StatusProcessed
		receipt.ProcessedAt = time.Now()
	} else {
		receipt.Status = api.StatusNeedsReview
	}
}

// fail marks the receipt failed with a diagnostic note. Best effort: the
// original error is what the caller reports.
func (p *Processor) fail(ctx context.Context, receipt *api.Receipt, note string) {
	receipt.Status = api.StatusFailed
	receipt.ExtractionNotes = note
	if err := p.receipts.UpdateReceipt(ctx, receipt); err != nil {
		p.logger.Error("failed to record failure", "receipt_id", receipt.ID, "error", err)
	}
	p.label(ctx, receipt.SourceMessageID, api.StatusFailed)
}

// label applies the status label to the source message, best effort.
func (p *Processor) label(ctx context.Context, messageID string, status api.ReceiptStatus) {
	var name string
	switch status {
	case api.StatusProcessed:
		name = LabelProcessed
	case api.StatusNeedsReview:
		name = LabelNeedsReview
	case api.StatusFailed:
		name = LabelFailed
	default:
		return
	}
	if err := p.mail.ApplyLabel(ctx, messageID, name); err != nil {
		p.logger.Warn("failed to apply label",
			"message_id", messageID, "label", name, "error", err)
	}
}

func (p *Processor) senderAllowed(from string) bool {
	if len(p.cfg.AllowedSenders) == 0 {
		return true
	}
	addr := api.SenderAddress(from)
	for _, allowed := range p.cfg.AllowedSenders {
		if addr == allowed {
			return true
		}
	}
	return false
}

func applyResult(receipt *api.Receipt, res extract.Result) {
	receipt.Merchant = res.Merchant
	receipt.PurchaseDate = res.PurchaseDate
	receipt.Amount = res.Amount
	receipt.Currency = res.Currency
	receipt.CardLast4Seen = res.CardLast4
	receipt.CardNetworkOrIssuer = res.Network
	receipt.SourceType = res.SourceType
	receipt.Confidence = res.Confidence
	receipt.ExtractionNotes = strings.Join(res.Notes, "; ")
}

func findAttachment(refs []api.AttachmentRef, filename string) api.AttachmentRef {
	for _, r := range refs {
		if r.Filename == filename {
			return r
		}
	}
	return api.AttachmentRef{}
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
