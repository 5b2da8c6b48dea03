// Command receiptsd ingests receipt emails and uploads, files the documents
// in Google Drive and reconciles them against imported card statements.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/client"
	"github.com/danthemanmcgee/Email-Receipts/pkg/config"
	"github.com/danthemanmcgee/Email-Receipts/pkg/drive"
	"github.com/danthemanmcgee/Email-Receipts/pkg/extract"
	"github.com/danthemanmcgee/Email-Receipts/pkg/logging"
	"github.com/danthemanmcgee/Email-Receipts/pkg/pipeline"
	"github.com/danthemanmcgee/Email-Receipts/pkg/reader/gmail"
	"github.com/danthemanmcgee/Email-Receipts/pkg/store/postgres"
)

const usage = `usage: receiptsd <command> [args]

commands:
  run                           poll the mailbox and process receipts (default)
  sync                          run a single mailbox pass and exit
  setup [--force]               run the Google OAuth flow
  status                        check configuration and connectivity
  upload <file> [card-id]       process a PDF receipt file directly
  import <card-id> <file>       import a card statement (.csv/.ofx/.qfx)
  reconcile <statement-id>      show statement lines with match suggestions
  link <line-id> <receipt-id>   link a receipt to a statement line
  unlink <line-id>              remove a statement line's match
  ignore <line-id>              toggle ignore on a statement line
  export <csv|json|sheets> [out]  export stored receipts
  cleanup                       delete receipts past their retention windows
`

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	cmd := "run"
	args := []string{}
	if len(os.Args) > 1 {
		cmd = os.Args[1]
		args = os.Args[2:]
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	switch cmd {
	case "run":
		err = runDaemon(ctx, cfg, logger)
	case "sync":
		err = runSync(ctx, cfg, logger)
	case "setup":
		force := len(args) > 0 && args[0] == "--force"
		err = runSetup(cfg, force)
	case "status":
		err = runStatus(ctx, cfg, logger)
	case "upload":
		err = runUpload(ctx, cfg, logger, args)
	case "import":
		err = runImport(ctx, cfg, logger, args)
	case "reconcile":
		err = runReconcile(ctx, cfg, logger, args)
	case "link", "unlink", "ignore":
		err = runMatchAction(ctx, cfg, logger, cmd, args)
	case "export":
		err = runExport(ctx, cfg, logger, args)
	case "cleanup":
		err = runCleanup(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// openStore connects to PostgreSQL using the loaded configuration.
func openStore(cfg *config.Config, logger *slog.Logger) (*postgres.Store, error) {
	return postgres.New(postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger)
}

// buildProcessor wires the full pipeline: OAuth client, Gmail, Drive and the
// store. The returned closer releases the database pool.
func buildProcessor(cfg *config.Config, logger *slog.Logger) (*pipeline.Processor, *postgres.Store, func(), error) {
	httpClient, err := client.New(client.Config{
		SecretsFile: cfg.SecretsFilePath,
		TokenFile:   cfg.TokenFilePath,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating oauth client: %w", err)
	}

	mailClient, err := gmail.New(httpClient, gmail.Config{Query: cfg.GmailQuery}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating gmail client: %w", err)
	}

	fileStore, err := drive.New(httpClient, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating drive store: %w", err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	proc := pipeline.New(pipelineConfig(cfg), mailClient, fileStore, store, store,
		extract.NewPDFExtractor("", logger), logger)
	return proc, store, store.Close, nil
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		UserID:              cfg.UserID,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxAttachmentSize:   cfg.MaxAttachmentSize(),
		RootFolder:          cfg.DriveRootFolder,
		AllowedSenders:      cfg.SenderAllowlist(),
		ListBatch:           100,
		RetentionProcessed:  time.Duration(cfg.RetentionProcessedDays) * 24 * time.Hour,
		RetentionReview:     time.Duration(cfg.RetentionReviewDays) * 24 * time.Hour,
	}
}
