package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// appendBatchSize is how many rows go into one Sheets append call.
const appendBatchSize = 50

// SheetsExporter appends receipts to a Google Sheet in batches.
type SheetsExporter struct {
	client      *sheets.Service
	spreadsheet *sheets.Spreadsheet
	sheetName   string
	logger      *slog.Logger
}

// SheetsConfig holds configuration for the Sheets exporter.
type SheetsConfig struct {
	// SheetTitle is the title for a new spreadsheet (if SheetID is empty).
	SheetTitle string
	// SheetID is the ID of an existing spreadsheet to use.
	SheetID string
	// SheetName is the name of the sheet within the spreadsheet.
	SheetName string
}

// NewSheets creates a Sheets exporter, creating the spreadsheet if needed.
func NewSheets(httpClient *http.Client, cfg SheetsConfig, logger *slog.Logger) (*SheetsExporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Receipts"
	}

	client, err := sheets.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	e := &SheetsExporter{
		client:    client,
		sheetName: cfg.SheetName,
		logger:    logger.With("component", "sheets_export"),
	}

	spreadsheet, err := e.initSpreadsheet(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing spreadsheet: %w", err)
	}
	e.spreadsheet = spreadsheet

	return e, nil
}

func (e *SheetsExporter) initSpreadsheet(ctx context.Context, cfg SheetsConfig) (*sheets.Spreadsheet, error) {
	if cfg.SheetID != "" {
		spreadsheet, err := e.client.Spreadsheets.Get(cfg.SheetID).Context(ctx).Do()
		if err == nil {
			e.logger.Info("using existing spreadsheet",
				"title", spreadsheet.Properties.Title, "id", cfg.SheetID)
			return spreadsheet, nil
		}
		e.logger.Warn("failed to get spreadsheet, will create new one", "id", cfg.SheetID, "error", err)
	}

	title := cfg.SheetTitle
	if title == "" {
		title = "Receipts"
	}
	spreadsheet, err := e.client.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title: title,
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("creating spreadsheet: %w", err)
	}

	e.logger.Info("created new spreadsheet", "title", title, "id", spreadsheet.SpreadsheetId)

	if err := e.writeHeaders(ctx, spreadsheet.SpreadsheetId, cfg.SheetName); err != nil {
		return nil, fmt.Errorf("writing headers: %w", err)
	}

	return spreadsheet, nil
}

func (e *SheetsExporter) writeHeaders(ctx context.Context, spreadsheetID, sheetName string) error {
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	headerRange := fmt.Sprintf("%s!A1:H1", sheetName)
	headerReq := sheets.ValueRange{
		Values: [][]any{row},
	}

	_, err := e.client.Spreadsheets.Values.Update(spreadsheetID, headerRange, &headerReq).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("updating headers: %w", err)
	}
	return nil
}

// Export appends every receipt below the header row. Batches retry on rate
// limiting so a large listing survives the Sheets quota.
func (e *SheetsExporter) Export(ctx context.Context, receipts []api.Receipt) error {
	for start := 0; start < len(receipts); start += appendBatchSize {
		end := start + appendBatchSize
		if end > len(receipts) {
			end = len(receipts)
		}
		if err := e.appendBatch(ctx, receipts[start:end]); err != nil {
			return err
		}
	}

	e.logger.Info("wrote receipts to sheet",
		"spreadsheet_id", e.spreadsheet.SpreadsheetId, "count", len(receipts))
	return nil
}

func (e *SheetsExporter) appendBatch(ctx context.Context, receipts []api.Receipt) error {
	values := make([][]any, 0, len(receipts))
	for _, r := range receipts {
		fields := record(r)
		row := make([]any, len(fields))
		for i, f := range fields {
			row[i] = f
		}
		values = append(values, row)
	}

	writeRange := fmt.Sprintf("%s!A2:H2", e.sheetName)
	writeReq := sheets.ValueRange{
		Values: values,
	}

	err := retry.Do(
		func() error {
			_, err := e.client.Spreadsheets.Values.Append(e.spreadsheet.SpreadsheetId, writeRange, &writeReq).
				ValueInputOption("USER_ENTERED").
				InsertDataOption("INSERT_ROWS").
				Context(ctx).
				Do()
			return err
		},
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				e.logger.Warn("rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(3),
		retry.Delay(60*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("appending batch to sheet: %w", err)
	}
	return nil
}

// SpreadsheetID returns the ID of the spreadsheet being written to.
func (e *SheetsExporter) SpreadsheetID() string {
	if e.spreadsheet == nil {
		return ""
	}
	return e.spreadsheet.SpreadsheetId
}
