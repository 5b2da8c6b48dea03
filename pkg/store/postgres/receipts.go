package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

const receiptColumns = `
	id, user_id, source_message_id, status, subject, sender, received_at,
	merchant, purchase_date, amount, currency, card_last4_seen,
	card_network_or_issuer, source_type, confidence, extraction_notes,
	physical_card_id, drive_file_id, drive_path, content_hash,
	processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*api.Receipt, error) {
	var (
		r           api.Receipt
		receivedAt  *time.Time
		purchasedAt *time.Time
		processedAt *time.Time
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.SourceMessageID, &r.Status, &r.Subject, &r.Sender, &receivedAt,
		&r.Merchant, &purchasedAt, &r.Amount, &r.Currency, &r.CardLast4Seen,
		&r.CardNetworkOrIssuer, &r.SourceType, &r.Confidence, &r.ExtractionNotes,
		&r.PhysicalCardID, &r.DriveFileID, &r.DrivePath, &r.ContentHash,
		&processedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ReceivedAt = fromNullTime(receivedAt)
	r.PurchaseDate = fromNullTime(purchasedAt)
	r.ProcessedAt = fromNullTime(processedAt)
	return &r, nil
}

// GetBySourceMessageID returns the receipt created for this source message,
// or nil when none exists.
func (s *Store) GetBySourceMessageID(ctx context.Context, sourceMessageID string) (*api.Receipt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+receiptColumns+` FROM receipts WHERE source_message_id = $1`,
		sourceMessageID,
	)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt by source message: %w", err)
	}
	return r, nil
}

// GetSourceLink returns the duplicate link for this source message, or nil.
func (s *Store) GetSourceLink(ctx context.Context, sourceMessageID string) (*api.SourceLink, error) {
	var link api.SourceLink
	err := s.pool.QueryRow(ctx,
		`SELECT id, receipt_id, source_message_id, user_id, created_at
		 FROM source_links WHERE source_message_id = $1`,
		sourceMessageID,
	).Scan(&link.ID, &link.ReceiptID, &link.SourceMessageID, &link.UserID, &link.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying source link: %w", err)
	}
	return &link, nil
}

// CreateReceipt inserts a new receipt and fills in its generated fields.
func (s *Store) CreateReceipt(ctx context.Context, r *api.Receipt) error {
	if r.Status == "" {
		r.Status = api.StatusNew
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO receipts (
			user_id, source_message_id, status, subject, sender, received_at,
			merchant, purchase_date, amount, currency, card_last4_seen,
			card_network_or_issuer, source_type, confidence, extraction_notes,
			physical_card_id, drive_file_id, drive_path, content_hash, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at, updated_at`,
		r.UserID, r.SourceMessageID, r.Status, r.Subject, r.Sender, nullTime(r.ReceivedAt),
		r.Merchant, nullTime(r.PurchaseDate), r.Amount, r.Currency, r.CardLast4Seen,
		r.CardNetworkOrIssuer, r.SourceType, r.Confidence, r.ExtractionNotes,
		r.PhysicalCardID, r.DriveFileID, r.DrivePath, r.ContentHash, nullTime(r.ProcessedAt),
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "receipts_user_content_hash_key") {
			return &api.DuplicateContentError{UserID: r.UserID, ContentHash: r.ContentHash}
		}
		return fmt.Errorf("inserting receipt: %w", err)
	}
	return nil
}

// UpdateReceipt saves every mutable field of an existing receipt. A content
// hash collision with another receipt of the same user surfaces as
// DuplicateContentError so the caller can switch to the duplicate path.
func (s *Store) UpdateReceipt(ctx context.Context, r *api.Receipt) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE receipts SET
			status = $2, subject = $3, sender = $4, received_at = $5,
			merchant = $6, purchase_date = $7, amount = $8, currency = $9,
			card_last4_seen = $10, card_network_or_issuer = $11, source_type = $12,
			confidence = $13, extraction_notes = $14, physical_card_id = $15,
			drive_file_id = $16, drive_path = $17, content_hash = $18,
			processed_at = $19, updated_at = NOW()
		WHERE id = $1`,
		r.ID, r.Status, r.Subject, r.Sender, nullTime(r.ReceivedAt),
		r.Merchant, nullTime(r.PurchaseDate), r.Amount, r.Currency,
		r.CardLast4Seen, r.CardNetworkOrIssuer, r.SourceType,
		r.Confidence, r.ExtractionNotes, r.PhysicalCardID,
		r.DriveFileID, r.DrivePath, r.ContentHash, nullTime(r.ProcessedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "receipts_user_content_hash_key") {
			return &api.DuplicateContentError{UserID: r.UserID, ContentHash: r.ContentHash}
		}
		return fmt.Errorf("updating receipt %d: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %d not found", r.ID)
	}
	return nil
}

// FindByContentHash returns another receipt of the same user carrying the
// same content hash, or nil.
func (s *Store) FindByContentHash(ctx context.Context, userID int64, hash string, excludeID int64) (*api.Receipt, error) {
	if hash == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		`SELECT`+receiptColumns+`
		 FROM receipts
		 WHERE user_id = $1 AND content_hash = $2 AND id <> $3
		 LIMIT 1`,
		userID, hash, excludeID,
	)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt by content hash: %w", err)
	}
	return r, nil
}

// AdoptDuplicate deletes the placeholder receipt and records a source link to
// the canonical one in a single transaction.
func (s *Store) AdoptDuplicate(ctx context.Context, placeholderID, canonicalID int64, sourceMessageID string, userID int64) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM receipts WHERE id = $1 AND user_id = $2`,
			placeholderID, userID,
		); err != nil {
			return fmt.Errorf("deleting placeholder receipt %d: %w", placeholderID, err)
		}

		// A reprocessed message may already carry a link; the adoption stays
		// idempotent.
		if _, err := tx.Exec(ctx, `
			INSERT INTO source_links (receipt_id, source_message_id, user_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (source_message_id) DO NOTHING`,
			canonicalID, sourceMessageID, userID,
		); err != nil {
			return fmt.Errorf("inserting source link: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("adopted duplicate receipt",
		"placeholder_id", placeholderID,
		"canonical_id", canonicalID,
		"source_message_id", sourceMessageID,
	)
	return nil
}

// LogAttachmentDecisions appends the audit rows from one selection run.
func (s *Store) LogAttachmentDecisions(ctx context.Context, receiptID int64, decisions []api.AttachmentDecision) error {
	if len(decisions) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(decisions))
	valueArgs := make([]any, 0, len(decisions)*5)
	argIndex := 1

	for _, d := range decisions {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			argIndex, argIndex+1, argIndex+2, argIndex+3, argIndex+4))
		valueArgs = append(valueArgs, receiptID, d.Filename, d.Score, d.Decision, d.Reason)
		argIndex += 5
	}

	query := fmt.Sprintf(`
		INSERT INTO attachment_decisions (receipt_id, filename, score, decision, reason)
		VALUES %s`, strings.Join(valueStrings, ","))

	if _, err := s.pool.Exec(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("inserting attachment decisions: %w", err)
	}
	return nil
}

// ListStored returns the user's receipts that have been uploaded, newest
// purchase first.
func (s *Store) ListStored(ctx context.Context, userID int64) ([]api.Receipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+receiptColumns+`
		 FROM receipts
		 WHERE user_id = $1 AND drive_file_id <> ''
		 ORDER BY purchase_date DESC NULLS LAST, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stored receipts: %w", err)
	}
	defer rows.Close()

	var out []api.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes receipts in the given status last touched before
// cutoff. Source links and audit rows go with them via cascade.
func (s *Store) DeleteOlderThan(ctx context.Context, status api.ReceiptStatus, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM receipts WHERE status = $1 AND updated_at < $2`,
		status, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting receipts in status %q: %w", status, err)
	}
	return tag.RowsAffected(), nil
}
