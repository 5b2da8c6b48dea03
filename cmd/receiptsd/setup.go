package main

import (
	"fmt"
	"os"

	"github.com/danthemanmcgee/Email-Receipts/pkg/client"
	"github.com/danthemanmcgee/Email-Receipts/pkg/config"
)

// runSetup handles the OAuth setup flow.
func runSetup(cfg *config.Config, force bool) error {
	fmt.Println("=== Receipts Setup ===")
	fmt.Println()

	secretsPath := cfg.SecretsFilePath
	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return fmt.Errorf("credentials file not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'", secretsPath, secretsPath)
	}

	if !force {
		if _, err := os.Stat(cfg.TokenFilePath); err == nil {
			fmt.Printf("Already authenticated! Token file exists: %s\n", cfg.TokenFilePath)
			fmt.Println()
			fmt.Println("To re-authenticate, run: receiptsd setup --force")
			return nil
		}
	}

	if force {
		if err := os.Remove(cfg.TokenFilePath); err != nil && !os.IsNotExist(err) {
			fmt.Printf("warning: failed to remove existing token: %v\n", err)
		}
		fmt.Println("Forcing re-authentication...")
		fmt.Println()
	}

	fmt.Println("This will set up OAuth authentication with Google.")
	fmt.Println()
	fmt.Println("Required permissions:")
	fmt.Println("  - Gmail: Read and modify emails (labeling and archiving processed receipts)")
	fmt.Println("  - Drive: Create and manage files this app creates (receipt storage)")
	fmt.Println("  - Sheets: Create and edit spreadsheets (receipt exports)")
	fmt.Println()
	fmt.Println("Starting authentication...")
	fmt.Println()

	// Trigger the OAuth flow by creating a client
	if _, err := client.New(client.Config{
		SecretsFile: secretsPath,
		TokenFile:   cfg.TokenFilePath,
	}); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Setup Complete ===")
	fmt.Println()
	fmt.Printf("Token saved to: %s\n", cfg.TokenFilePath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Set the RECEIPTS_* and POSTGRES_* environment variables (see README)")
	fmt.Println("  2. Run 'receiptsd run' to start processing receipts")
	fmt.Println()

	return nil
}
