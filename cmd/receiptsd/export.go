package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danthemanmcgee/Email-Receipts/pkg/client"
	"github.com/danthemanmcgee/Email-Receipts/pkg/config"
	"github.com/danthemanmcgee/Email-Receipts/pkg/export"
)

// runExport writes the stored receipt listing to CSV, JSON or a Google Sheet.
func runExport(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: receiptsd export <csv|json|sheets> [file|sheet-id]")
	}
	format := args[0]

	var exporter export.Exporter
	switch format {
	case "csv", "json":
		if len(args) < 2 {
			return fmt.Errorf("usage: receiptsd export %s <file>", format)
		}
		if format == "csv" {
			exporter = export.NewCSV(args[1], logger)
		} else {
			exporter = export.NewJSON(args[1], logger)
		}
	case "sheets":
		httpClient, err := client.New(client.Config{
			SecretsFile: cfg.SecretsFilePath,
			TokenFile:   cfg.TokenFilePath,
		})
		if err != nil {
			return fmt.Errorf("creating oauth client: %w", err)
		}
		sheetsCfg := export.SheetsConfig{SheetTitle: "Receipts"}
		if len(args) > 1 {
			sheetsCfg.SheetID = args[1]
		}
		exporter, err = export.NewSheets(httpClient, sheetsCfg, logger)
		if err != nil {
			return fmt.Errorf("creating sheets exporter: %w", err)
		}
	default:
		return fmt.Errorf("unknown export format %q (want csv, json or sheets)", format)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	receipts, err := store.ListStored(ctx, cfg.UserID)
	if err != nil {
		return fmt.Errorf("listing receipts: %w", err)
	}

	if err := exporter.Export(ctx, receipts); err != nil {
		return err
	}

	fmt.Printf("exported %d receipts\n", len(receipts))
	if s, ok := exporter.(*export.SheetsExporter); ok {
		fmt.Printf("spreadsheet: %s\n", s.SpreadsheetID())
	}
	return nil
}
