package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	driveapi "google.golang.org/api/drive/v3"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/danthemanmcgee/Email-Receipts/pkg/client"
	"github.com/danthemanmcgee/Email-Receipts/pkg/config"
)

// runStatus checks configuration, authentication and connectivity.
func runStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	fmt.Println("=== Receipts Status ===")
	fmt.Println()

	allGood := true

	fmt.Printf("Credentials file (%s): ", cfg.SecretsFilePath)
	if _, err := os.Stat(cfg.SecretsFilePath); os.IsNotExist(err) {
		fmt.Println("✗ Not found")
		allGood = false
	} else {
		fmt.Println("✓ Found")
	}

	token := checkTokenStatus(cfg.TokenFilePath, &allGood)

	fmt.Print("PostgreSQL: ")
	if store, err := openStore(cfg, logger); err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		store.Close()
		fmt.Printf("✓ Connected (%s:%d/%s)\n",
			cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
	}

	if token != nil {
		checkAPIConnectivity(ctx, cfg, &allGood)
	}

	fmt.Println()
	if allGood {
		fmt.Println("Status: ✓ Ready to run")
		fmt.Println()
		fmt.Println("Run 'receiptsd run' to start processing receipts.")
	} else {
		fmt.Println("Status: ✗ Configuration issues detected")
		fmt.Println()
		fmt.Println("Fix the issues above, then run 'receiptsd status' again.")
	}

	return nil
}

func checkTokenStatus(tokenPath string, allGood *bool) *oauth2.Token {
	fmt.Printf("OAuth token (%s): ", tokenPath)
	token, err := checkToken(tokenPath)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return nil
	}

	if token.Expiry.Before(time.Now()) {
		fmt.Println("⚠ Expired (will refresh on next run)")
	} else {
		fmt.Printf("✓ Valid (expires: %s)\n", token.Expiry.Format(time.RFC3339))
	}
	return token
}

func checkToken(tokenPath string) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("not found (run 'receiptsd setup')")
		}
		return nil, err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid format")
	}

	return &token, nil
}

func checkAPIConnectivity(ctx context.Context, cfg *config.Config, allGood *bool) {
	fmt.Println()
	fmt.Println("API Connectivity:")

	httpClient, err := client.New(client.Config{
		SecretsFile: cfg.SecretsFilePath,
		TokenFile:   cfg.TokenFilePath,
	})
	if err != nil {
		fmt.Printf("  OAuth client: ✗ %v\n", err)
		*allGood = false
		return
	}

	fmt.Print("  Gmail API: ")
	if err := testGmailAPI(ctx, httpClient); err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
	} else {
		fmt.Println("✓ Connected")
	}

	fmt.Print("  Drive API: ")
	if err := testDriveAPI(ctx, httpClient); err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
	} else {
		fmt.Println("✓ Connected")
	}
}

func testGmailAPI(ctx context.Context, httpClient *http.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	// List labels as a simple connectivity test
	if _, err := svc.Users.Labels.List("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("API call failed: %w", err)
	}
	return nil
}

func testDriveAPI(ctx context.Context, httpClient *http.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	svc, err := driveapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if _, err := svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return fmt.Errorf("API call failed: %w", err)
	}
	return nil
}
