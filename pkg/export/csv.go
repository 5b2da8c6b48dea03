package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// CSVExporter writes receipts to a CSV file, replacing any existing file so
// repeated exports stay consistent with the store.
type CSVExporter struct {
	filePath string
	logger   *slog.Logger
}

// NewCSV creates a CSV exporter targeting filePath.
func NewCSV(filePath string, logger *slog.Logger) *CSVExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVExporter{
		filePath: filePath,
		logger:   logger.With("component", "csv_export"),
	}
}

// Export writes the header row and one record per receipt.
func (e *CSVExporter) Export(ctx context.Context, receipts []api.Receipt) error {
	file, err := os.Create(e.filePath)
	if err != nil {
		return fmt.Errorf("creating csv file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("writing csv headers: %w", err)
	}
	for _, r := range receipts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Write(record(r)); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}

	e.logger.Info("wrote receipts to csv", "file", e.filePath, "count", len(receipts))
	return nil
}
