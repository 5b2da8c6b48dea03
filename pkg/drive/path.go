package drive

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// Placeholder components used when a field was not extracted. The path is a
// pure function of its inputs so a reprocessed message always lands on the
// same destination.
const (
	unmappedCardFolder = "Unmapped_Card"
	unknownMerchant    = "Unknown"
	zeroDateFilename   = "0000-00-00"
	zeroDateYear       = "0000"
	zeroDateMonth      = "0000-00"
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SanitizeComponent replaces characters unsafe in file and folder names with
// underscores and collapses whitespace runs. Output is capped at 100 bytes.
func SanitizeComponent(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// BuildPath computes the destination folder path and filename for a receipt
// document. Missing fields fall back to literal placeholders.
func BuildPath(card *api.PhysicalCard, purchaseDate time.Time, merchant string,
	amount *float64, currency, sourceID, rootFolder string,
) (folderPath, filename string) {
	cardFolder := unmappedCardFolder
	if card != nil {
		cardFolder = SanitizeComponent(card.DisplayName)
	}

	year, month, dateStr := zeroDateYear, zeroDateMonth, zeroDateFilename
	if !purchaseDate.IsZero() {
		year = purchaseDate.Format("2006")
		month = purchaseDate.Format("2006-01")
		dateStr = purchaseDate.Format("2006-01-02")
	}

	folderPath = fmt.Sprintf("%s/%s/%s/%s", rootFolder, cardFolder, year, month)

	merchantStr := unknownMerchant
	if merchant != "" {
		merchantStr = SanitizeComponent(merchant)
	}

	amountStr := "0.00"
	if amount != nil {
		amountStr = fmt.Sprintf("%.2f", *amount)
	}

	if currency == "" {
		currency = "USD"
	}

	filename = fmt.Sprintf("%s_%s_%s_%s_%s.pdf",
		dateStr, merchantStr, amountStr, strings.ToUpper(currency), sourceID)
	return folderPath, filename
}
