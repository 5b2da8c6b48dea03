// Package statement parses CSV and OFX/QFX card statement files into
// transaction rows. Parsing is all-or-nothing: a single bad row fails the
// whole file so the import can be rolled back cleanly.
package statement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Formats accepted for import.
const (
	FormatCSV = "csv"
	FormatOFX = "ofx"
)

// Transaction is one parsed statement row. Amounts are decimals so values
// like 19.99 survive parsing without binary-float drift.
type Transaction struct {
	Date          time.Time
	Amount        decimal.Decimal
	Merchant      string
	TransactionID string
	Currency      string
}

// DetectFormat maps a filename to a parser format, or "" when unsupported.
func DetectFormat(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return FormatCSV
	case strings.HasSuffix(lower, ".ofx"), strings.HasSuffix(lower, ".qfx"):
		return FormatOFX
	default:
		return ""
	}
}

// Parse dispatches to the right parser for format. columnMap only applies to
// CSV input.
func Parse(format, content string, columnMap map[string]string) ([]Transaction, error) {
	if format == FormatOFX {
		return ParseOFX(content)
	}
	return ParseCSV(content, columnMap)
}
