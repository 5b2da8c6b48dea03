package statement

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// Importer parses statement files and persists them through the store.
type Importer struct {
	store  api.StatementStore
	cards  api.CardStore
	logger *slog.Logger
}

// NewImporter wires an Importer to its stores.
func NewImporter(store api.StatementStore, cards api.CardStore, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:  store,
		cards:  cards,
		logger: logger.With("component", "statement_importer"),
	}
}

// Import parses content and writes the statement with all its lines in one
// transaction. Every row is validated before anything is written; a single
// invalid row means nothing is imported. New lines start unmatched.
func (im *Importer) Import(ctx context.Context, userID, cardID int64, filename, content string,
	columnMap map[string]string,
) (*api.CardStatement, error) {
	card, err := im.cards.GetCard(ctx, cardID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "looking up card")
	}
	if card == nil {
		return nil, errors.Errorf("card %d not found for user", cardID)
	}

	format := DetectFormat(filename)
	if format == "" {
		return nil, errors.Errorf(
			"unsupported file type for statement import: %q, accepted formats: .csv, .ofx, .qfx", filename)
	}

	txns, err := Parse(format, content, columnMap)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s statement", format)
	}

	stmt := &api.CardStatement{
		UserID:   userID,
		CardID:   cardID,
		Filename: filename,
		Format:   format,
		RowCount: len(txns),
	}

	lines := make([]api.StatementLine, 0, len(txns))
	for _, t := range txns {
		lines = append(lines, api.StatementLine{
			UserID:        userID,
			CardID:        cardID,
			TxnDate:       t.Date,
			Amount:        t.Amount.InexactFloat64(),
			Merchant:      t.Merchant,
			TransactionID: t.TransactionID,
			Currency:      t.Currency,
			MatchStatus:   api.MatchUnmatched,
		})
	}

	if err := im.store.ImportStatement(ctx, stmt, lines); err != nil {
		return nil, errors.Wrap(err, "saving imported statement")
	}

	im.logger.Info("imported statement",
		"card_id", cardID, "filename", filename, "format", format, "rows", len(lines))
	return stmt, nil
}
