package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// ImportStatement writes the statement header and all its lines in one
// transaction. Any failure leaves the database untouched.
func (s *Store) ImportStatement(ctx context.Context, stmt *api.CardStatement, lines []api.StatementLine) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO card_statements (user_id, card_id, filename, format, row_count)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, imported_at`,
			stmt.UserID, stmt.CardID, stmt.Filename, stmt.Format, len(lines),
		).Scan(&stmt.ID, &stmt.ImportedAt)
		if err != nil {
			return fmt.Errorf("inserting statement header: %w", err)
		}
		stmt.RowCount = len(lines)

		batch := &pgx.Batch{}
		for i := range lines {
			line := &lines[i]
			batch.Queue(`
				INSERT INTO statement_lines (
					statement_id, user_id, card_id, txn_date, amount,
					merchant, transaction_id, currency, match_status
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING id`,
				stmt.ID, stmt.UserID, stmt.CardID, nullTime(line.TxnDate), line.Amount,
				line.Merchant, line.TransactionID, line.Currency, api.MatchUnmatched,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for i := range lines {
			if err := results.QueryRow().Scan(&lines[i].ID); err != nil {
				return fmt.Errorf("inserting statement line %d: %w", i+1, err)
			}
			lines[i].StatementID = stmt.ID
			lines[i].MatchStatus = api.MatchUnmatched
		}
		return results.Close()
	})
	if err != nil {
		return err
	}

	s.logger.Info("imported statement",
		"statement_id", stmt.ID,
		"card_id", stmt.CardID,
		"rows", len(lines),
	)
	return nil
}

const lineColumns = `
	id, statement_id, user_id, card_id, txn_date, amount,
	merchant, transaction_id, currency, match_status, matched_receipt_id`

func scanLine(row rowScanner) (*api.StatementLine, error) {
	var (
		line    api.StatementLine
		txnDate *time.Time
	)
	err := row.Scan(
		&line.ID, &line.StatementID, &line.UserID, &line.CardID, &txnDate, &line.Amount,
		&line.Merchant, &line.TransactionID, &line.Currency, &line.MatchStatus, &line.MatchedReceiptID,
	)
	if err != nil {
		return nil, err
	}
	line.TxnDate = fromNullTime(txnDate)
	return &line, nil
}

// GetLine returns one of the user's statement lines, or nil when absent.
func (s *Store) GetLine(ctx context.Context, lineID, userID int64) (*api.StatementLine, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+lineColumns+` FROM statement_lines WHERE id = $1 AND user_id = $2`,
		lineID, userID,
	)
	line, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying statement line %d: %w", lineID, err)
	}
	return line, nil
}

// ListLines returns every line of a statement in row order.
func (s *Store) ListLines(ctx context.Context, statementID, userID int64) ([]api.StatementLine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+lineColumns+`
		 FROM statement_lines
		 WHERE statement_id = $1 AND user_id = $2
		 ORDER BY id`,
		statementID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing statement lines: %w", err)
	}
	defer rows.Close()

	var out []api.StatementLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning statement line: %w", err)
		}
		out = append(out, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating statement lines: %w", err)
	}
	return out, nil
}

// LinkReceipt marks the line matched to the receipt, replacing any previous
// match in the same statement.
func (s *Store) LinkReceipt(ctx context.Context, lineID, receiptID, userID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE statement_lines
		SET match_status = $3, matched_receipt_id = $4
		WHERE id = $1 AND user_id = $2`,
		lineID, userID, api.MatchMatched, receiptID,
	)
	if err != nil {
		return fmt.Errorf("linking receipt %d to line %d: %w", receiptID, lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("statement line %d not found", lineID)
	}
	return nil
}

// UnlinkReceipt clears the line's match and resets it to unmatched.
func (s *Store) UnlinkReceipt(ctx context.Context, lineID, userID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE statement_lines
		SET match_status = $3, matched_receipt_id = 0
		WHERE id = $1 AND user_id = $2`,
		lineID, userID, api.MatchUnmatched,
	)
	if err != nil {
		return fmt.Errorf("unlinking line %d: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("statement line %d not found", lineID)
	}
	return nil
}

// SetIgnored flips the line between ignored and unmatched.
func (s *Store) SetIgnored(ctx context.Context, lineID, userID int64, ignored bool) error {
	status := api.MatchUnmatched
	if ignored {
		status = api.MatchIgnored
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE statement_lines
		SET match_status = $3
		WHERE id = $1 AND user_id = $2`,
		lineID, userID, status,
	)
	if err != nil {
		return fmt.Errorf("setting ignore on line %d: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("statement line %d not found", lineID)
	}
	return nil
}

// GetReceiptForMatch loads a receipt owner-scoped for reconciliation use.
func (s *Store) GetReceiptForMatch(ctx context.Context, receiptID, userID int64) (*api.Receipt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+receiptColumns+` FROM receipts WHERE id = $1 AND user_id = $2`,
		receiptID, userID,
	)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt %d: %w", receiptID, err)
	}
	return r, nil
}
