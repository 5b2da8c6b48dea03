package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// jsonRecord is the stable on-disk shape for JSON exports. It deliberately
// omits internal identifiers like the content hash and source message id.
type jsonRecord struct {
	ID           int64    `json:"id"`
	PurchaseDate string   `json:"purchase_date,omitempty"`
	Merchant     string   `json:"merchant,omitempty"`
	Amount       *float64 `json:"amount,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Card         string   `json:"card,omitempty"`
	Status       string   `json:"status"`
	DrivePath    string   `json:"drive_path,omitempty"`
	Source       string   `json:"source"`
	ProcessedAt  string   `json:"processed_at,omitempty"`
}

// JSONExporter writes receipts to a JSON file as one indented array.
type JSONExporter struct {
	filePath string
	logger   *slog.Logger
}

// NewJSON creates a JSON exporter targeting filePath.
func NewJSON(filePath string, logger *slog.Logger) *JSONExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONExporter{
		filePath: filePath,
		logger:   logger.With("component", "json_export"),
	}
}

// Export replaces the target file with the full receipt listing.
func (e *JSONExporter) Export(ctx context.Context, receipts []api.Receipt) error {
	records := make([]jsonRecord, 0, len(receipts))
	for _, r := range receipts {
		records = append(records, toJSONRecord(r))
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling receipts: %w", err)
	}
	if err := os.WriteFile(e.filePath, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}

	e.logger.Info("wrote receipts to json", "file", e.filePath, "count", len(records))
	return nil
}

func toJSONRecord(r api.Receipt) jsonRecord {
	rec := jsonRecord{
		ID:        r.ID,
		Merchant:  r.Merchant,
		Amount:    r.Amount,
		Currency:  r.Currency,
		Card:      cardLabel(r),
		Status:    string(r.Status),
		DrivePath: r.DrivePath,
		Source:    r.SourceType,
	}
	if !r.PurchaseDate.IsZero() {
		rec.PurchaseDate = r.PurchaseDate.Format("2006-01-02")
	}
	if !r.ProcessedAt.IsZero() {
		rec.ProcessedAt = r.ProcessedAt.Format(time.RFC3339)
	}
	return rec
}
