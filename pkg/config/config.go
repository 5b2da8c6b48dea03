// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ClientSecretFile is the default path to the Google OAuth credentials JSON file.
const ClientSecretFile = "data/client_secret.json"

// TokenFile is the default path where the exchanged OAuth token is cached.
const TokenFile = "data/token.json"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// UserID is the owner of every record this instance creates.
	// Environment variable: RECEIPTS_USER_ID
	UserID int64 `koanf:"RECEIPTS_USER_ID"`

	// SecretsFilePath is the path to the Google OAuth credentials file.
	// Environment variable: RECEIPTS_SECRETS_FILE
	SecretsFilePath string `koanf:"RECEIPTS_SECRETS_FILE"`

	// TokenFilePath is where the OAuth token is cached between runs.
	// Environment variable: RECEIPTS_TOKEN_FILE
	TokenFilePath string `koanf:"RECEIPTS_TOKEN_FILE"`

	// DriveRootFolder is the top-level folder receipts are filed under.
	// Environment variable: RECEIPTS_DRIVE_ROOT
	DriveRootFolder string `koanf:"RECEIPTS_DRIVE_ROOT"`

	// GmailQuery selects candidate messages in the mailbox.
	// Environment variable: RECEIPTS_GMAIL_QUERY
	GmailQuery string `koanf:"RECEIPTS_GMAIL_QUERY"`

	// AllowedSenders restricts processing to these sender addresses when
	// non-empty (comma-separated). Empty allows all senders.
	// Environment variable: RECEIPTS_ALLOWED_SENDERS
	AllowedSenders string `koanf:"RECEIPTS_ALLOWED_SENDERS"`

	// ConfidenceThreshold is the minimum extraction confidence for a receipt
	// to be marked processed without review.
	// Environment variable: RECEIPTS_CONFIDENCE_THRESHOLD
	ConfidenceThreshold float64 `koanf:"RECEIPTS_CONFIDENCE_THRESHOLD"`

	// MaxAttachmentSizeMB caps the size of attachments considered for
	// selection. Environment variable: RECEIPTS_MAX_ATTACHMENT_SIZE_MB
	MaxAttachmentSizeMB int64 `koanf:"RECEIPTS_MAX_ATTACHMENT_SIZE_MB"`

	// PollIntervalSeconds is the mailbox polling period for the daemon.
	// Environment variable: RECEIPTS_POLL_INTERVAL_SECONDS
	PollIntervalSeconds int `koanf:"RECEIPTS_POLL_INTERVAL_SECONDS"`

	// RetentionProcessedDays / RetentionReviewDays bound how long processed
	// and review/failed receipts are kept before cleanup deletes them.
	RetentionProcessedDays int `koanf:"RECEIPTS_RETENTION_PROCESSED_DAYS"`
	RetentionReviewDays    int `koanf:"RECEIPTS_RETENTION_REVIEW_DAYS"`

	// MatchThreshold and MatchLimit tune reconciliation suggestions.
	MatchThreshold float64 `koanf:"RECEIPTS_MATCH_THRESHOLD"`
	MatchLimit     int     `koanf:"RECEIPTS_MATCH_LIMIT"`

	// PostgreSQL connection settings.
	Postgres PostgresConfig
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// DSN returns the connection string for pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

// Load reads configuration from the environment and applies defaults.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := defaults()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		UserID:                 1,
		SecretsFilePath:        ClientSecretFile,
		TokenFilePath:          TokenFile,
		DriveRootFolder:        "Receipts",
		GmailQuery:             `in:inbox has:attachment -label:receipt/processed`,
		ConfidenceThreshold:    0.75,
		MaxAttachmentSizeMB:    25,
		PollIntervalSeconds:    300,
		RetentionProcessedDays: 90,
		RetentionReviewDays:    45,
		MatchThreshold:         0.50,
		MatchLimit:             5,
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "receipts",
			User:     "receipts",
			SSLMode:  "disable",
		},
	}
}

// SenderAllowlist parses AllowedSenders into lowercased bare addresses.
func (c *Config) SenderAllowlist() []string {
	if strings.TrimSpace(c.AllowedSenders) == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(c.AllowedSenders, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PollInterval returns the daemon polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MaxAttachmentSize returns the attachment cap in bytes.
func (c *Config) MaxAttachmentSize() int64 {
	return c.MaxAttachmentSizeMB * 1024 * 1024
}
