// Command maildump fetches messages matching the configured query and dumps
// their bodies, attachment scores and extraction results. This utility is
// used to collect samples for unit testing and to debug extraction.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/danthemanmcgee/Email-Receipts/pkg/attach"
	"github.com/danthemanmcgee/Email-Receipts/pkg/client"
	"github.com/danthemanmcgee/Email-Receipts/pkg/config"
	"github.com/danthemanmcgee/Email-Receipts/pkg/extract"
	"github.com/danthemanmcgee/Email-Receipts/pkg/logging"
	"github.com/danthemanmcgee/Email-Receipts/pkg/reader/gmail"
)

const dumpDir = "tests/data/dump"

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	httpClient, err := client.New(client.Config{
		SecretsFile: cfg.SecretsFilePath,
		TokenFile:   cfg.TokenFilePath,
		Scopes:      []string{gmailapi.GmailReadonlyScope},
	})
	if err != nil {
		logger.Error("failed to create http client", "error", err)
		os.Exit(1)
	}

	mail, err := gmail.New(httpClient, gmail.Config{Query: cfg.GmailQuery}, logger)
	if err != nil {
		logger.Error("failed to create gmail client", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		logger.Error("failed to create dump directory", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	ids, err := mail.ListNewMessages(ctx, 10)
	if err != nil {
		logger.Error("failed to list messages", "error", err)
		os.Exit(1)
	}

	dumped := 0
	for _, id := range ids {
		if err := dumpMessage(ctx, mail, id, logger); err != nil {
			logger.Warn("failed to dump message", "message_id", id, "error", err)
			continue
		}
		dumped++
	}

	logger.Info("mail dump complete", "dumped", dumped, "directory", dumpDir)
}

func dumpMessage(ctx context.Context, mail *gmail.Client, id string, logger *slog.Logger) error {
	msg, err := mail.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching message: %w", err)
	}

	path := filepath.Join(dumpDir, id+".txt")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dump file: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "Subject: %s\nFrom: %s\nDate: %s\n\n", msg.Subject, msg.Sender, msg.ReceivedAt)

	fmt.Fprintln(f, "--- attachment scores ---")
	candidates := make([]attach.Candidate, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		candidates = append(candidates, attach.Candidate{
			Filename:  a.Filename,
			Timestamp: msg.ReceivedAt,
			Size:      a.Size,
		})
	}
	winner, scored := attach.Select(candidates, 0)
	for _, s := range scored {
		fmt.Fprintf(f, "%5d  %-20s %-40s %s\n", s.Score, s.Decision, s.Filename, s.Reason)
	}
	if winner == nil {
		fmt.Fprintln(f, "(no attachment selected)")
	}

	fmt.Fprintln(f, "\n--- body extraction ---")
	res := extract.FromText(msg.BodyText, extract.SourceEmailBody)
	fmt.Fprintf(f, "merchant=%q date=%v amount=%v currency=%s last4=%s network=%s confidence=%.2f\n",
		res.Merchant, res.PurchaseDate, res.Amount, res.Currency, res.CardLast4, res.Network, res.Confidence)
	for _, note := range res.Notes {
		fmt.Fprintf(f, "note: %s\n", note)
	}

	fmt.Fprintln(f, "\n--- body ---")
	fmt.Fprintln(f, msg.BodyText)

	logger.Info("dumped message", "message_id", id, "path", path)
	return nil
}
