// Package api defines the core records, state enums and capability interfaces
// shared by the receipt pipeline.
package api

import (
	"context"
	"net/mail"
	"strings"
	"time"
)

// ReceiptStatus is the lifecycle state of a receipt.
type ReceiptStatus string

const (
	StatusNew         ReceiptStatus = "new"
	StatusProcessing  ReceiptStatus = "processing"
	StatusProcessed   ReceiptStatus = "processed"
	StatusNeedsReview ReceiptStatus = "needs_review"
	StatusFailed      ReceiptStatus = "failed"
	StatusIgnored     ReceiptStatus = "ignored"
)

// Reprocessable reports whether a receipt in this status may be picked up
// again by the pipeline. Anything else counts as already handled for
// message-level idempotency.
func (s ReceiptStatus) Reprocessable() bool {
	return s == StatusNew || s == StatusFailed
}

// MatchStatus is the reconciliation state of a statement line.
type MatchStatus string

const (
	MatchUnmatched MatchStatus = "unmatched"
	MatchMatched   MatchStatus = "matched"
	MatchIgnored   MatchStatus = "ignored"
)

// Receipt is one purchase document owned by a single user. The canonical copy
// of the document lives in the file store; ContentHash is the SHA-256 of its
// bytes and (UserID, ContentHash) is unique whenever the hash is set.
type Receipt struct {
	ID              int64
	UserID          int64
	SourceMessageID string
	Status          ReceiptStatus
	Subject         string
	Sender          string
	ReceivedAt      time.Time

	// Extracted fields. Amount is a pointer so a genuine 0.00 total can be
	// told apart from "nothing extracted". A zero PurchaseDate means the
	// date was not found.
	Merchant            string
	PurchaseDate        time.Time
	Amount              *float64
	Currency            string
	CardLast4Seen       string
	CardNetworkOrIssuer string
	SourceType          string
	Confidence          float64
	ExtractionNotes     string

	// PhysicalCardID is 0 when the observed card digits did not resolve.
	PhysicalCardID int64

	DriveFileID string
	DrivePath   string
	ContentHash string

	ProcessedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stored reports whether the canonical document has been uploaded.
func (r *Receipt) Stored() bool { return r.DriveFileID != "" }

// SourceLink maps an inbound source message identifier to its canonical
// receipt. Forwarded or re-sent duplicates each get a row here instead of a
// second receipt.
type SourceLink struct {
	ID              int64
	ReceiptID       int64
	SourceMessageID string
	UserID          int64
	CreatedAt       time.Time
}

// AttachmentDecision is one audit row from an attachment-selection run.
type AttachmentDecision struct {
	ID        int64
	ReceiptID int64
	Filename  string
	Score     int
	Decision  string
	Reason    string
	CreatedAt time.Time
}

// PhysicalCard is a real payment card owned by a user.
type PhysicalCard struct {
	ID          int64
	UserID      int64
	DisplayName string
	Last4       string
	Network     string
	CreatedAt   time.Time
}

// CardAlias is an alternate last-4 value or regex pattern that resolves to a
// physical card, for issuers that print different digits per channel.
type CardAlias struct {
	ID             int64
	PhysicalCardID int64
	AliasLast4     string
	AliasPattern   string
	Notes          string
	CreatedAt      time.Time
}

// CardStatement is one imported statement file for a (user, card) pair.
type CardStatement struct {
	ID         int64
	UserID     int64
	CardID     int64
	Filename   string
	Format     string
	RowCount   int
	ImportedAt time.Time
}

// StatementLine is a single transaction row from an imported statement.
// MatchedReceiptID is 0 unless MatchStatus is MatchMatched.
type StatementLine struct {
	ID               int64
	StatementID      int64
	UserID           int64
	CardID           int64
	TxnDate          time.Time
	Amount           float64
	Merchant         string
	TransactionID    string
	Currency         string
	MatchStatus      MatchStatus
	MatchedReceiptID int64
}

// AttachmentRef identifies one downloadable attachment on a message.
type AttachmentRef struct {
	Filename     string
	AttachmentID string
	Size         int64
}

// Message is the normalized view of an inbound mail message.
type Message struct {
	ID          string
	Subject     string
	Sender      string
	ReceivedAt  time.Time
	BodyText    string
	Attachments []AttachmentRef
}

// MailClient is the capability boundary over the mailbox provider.
type MailClient interface {
	// ListNewMessages returns IDs of messages that look like unprocessed
	// receipts, newest first, up to max.
	ListNewMessages(ctx context.Context, max int64) ([]string, error)
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	// ApplyLabel tags the message, creating the label first if needed.
	ApplyLabel(ctx context.Context, messageID, label string) error
	Archive(ctx context.Context, messageID string) error
}

// FileStore is the capability boundary over the document store.
type FileStore interface {
	// EnsureFolder creates the nested folder path as needed and returns the
	// leaf folder ID.
	EnsureFolder(ctx context.Context, path string) (string, error)
	// FileExists returns the ID of an existing file with this name in the
	// folder, or "" when absent.
	FileExists(ctx context.Context, folderID, filename string) (string, error)
	UploadFile(ctx context.Context, data []byte, folderID, filename string) (string, error)
}

// DuplicateContentError is returned by ReceiptStore.UpdateReceipt when the
// (UserID, ContentHash) uniqueness constraint is violated, so the caller can
// fall back to the duplicate-reuse path.
type DuplicateContentError struct {
	UserID      int64
	ContentHash string
}

func (e *DuplicateContentError) Error() string {
	return "receipt with identical content already exists for this user"
}

// ReceiptStore is the persistence boundary for receipts, source links and
// attachment audit rows. Implementations enforce the (UserID, ContentHash)
// and SourceMessageID uniqueness invariants in storage.
type ReceiptStore interface {
	// GetBySourceMessageID returns nil, nil when no receipt exists.
	GetBySourceMessageID(ctx context.Context, sourceMessageID string) (*Receipt, error)
	// GetSourceLink returns nil, nil when no link exists.
	GetSourceLink(ctx context.Context, sourceMessageID string) (*SourceLink, error)
	CreateReceipt(ctx context.Context, r *Receipt) error
	UpdateReceipt(ctx context.Context, r *Receipt) error
	// FindByContentHash returns another receipt of the same user with the
	// same content hash, excluding excludeID, or nil.
	FindByContentHash(ctx context.Context, userID int64, hash string, excludeID int64) (*Receipt, error)
	// AdoptDuplicate atomically deletes the placeholder receipt and records
	// a source link from sourceMessageID to the canonical receipt. Both
	// happen in one transaction or not at all.
	AdoptDuplicate(ctx context.Context, placeholderID, canonicalID int64, sourceMessageID string, userID int64) error
	LogAttachmentDecisions(ctx context.Context, receiptID int64, decisions []AttachmentDecision) error
	// ListStored returns the user's receipts that carry a storage pointer.
	ListStored(ctx context.Context, userID int64) ([]Receipt, error)
	// DeleteOlderThan removes receipts in status last updated before cutoff
	// and reports how many were deleted.
	DeleteOlderThan(ctx context.Context, status ReceiptStatus, cutoff time.Time) (int64, error)
}

// CardStore is the persistence boundary for cards and aliases. All reads are
// owner-scoped.
type CardStore interface {
	ListCards(ctx context.Context, userID int64) ([]PhysicalCard, error)
	ListAliases(ctx context.Context, userID int64) ([]CardAlias, error)
	GetCard(ctx context.Context, cardID, userID int64) (*PhysicalCard, error)
}

// StatementStore is the persistence boundary for statement imports and
// reconciliation state.
type StatementStore interface {
	// ImportStatement persists the statement header and every line in a
	// single transaction; a failure writes nothing.
	ImportStatement(ctx context.Context, stmt *CardStatement, lines []StatementLine) error
	GetLine(ctx context.Context, lineID, userID int64) (*StatementLine, error)
	ListLines(ctx context.Context, statementID, userID int64) ([]StatementLine, error)
	// LinkReceipt replaces any existing match for the line with the new one
	// and marks the line matched, atomically.
	LinkReceipt(ctx context.Context, lineID, receiptID, userID int64) error
	// UnlinkReceipt deletes the match (if any) and marks the line unmatched.
	UnlinkReceipt(ctx context.Context, lineID, userID int64) error
	// SetIgnored flips the line between ignored and unmatched.
	SetIgnored(ctx context.Context, lineID, userID int64, ignored bool) error
	GetReceiptForMatch(ctx context.Context, receiptID, userID int64) (*Receipt, error)
}

// SenderAddress extracts the bare lowercase address from an RFC 5322 From
// header like `Name <email@example.com>`. Allowlist checks and provider
// adapters share this so sender comparison is uniform.
func SenderAddress(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.TrimSpace(from))
}
