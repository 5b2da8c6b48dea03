// Package extract pulls receipt fields out of plain text with a set of
// anchored regular expressions. It never errors: missing fields lower the
// confidence score instead.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Source types recorded on the receipt.
const (
	SourceEmailBody     = "email_body"
	SourcePDFAttachment = "pdf_attachment"
	SourceDirectUpload  = "direct_upload"
)

// Result holds the fields recovered from one piece of text. Amount is a
// pointer so 0.00 can be distinguished from "not found"; a zero PurchaseDate
// means the date was not found.
type Result struct {
	Merchant     string
	PurchaseDate time.Time
	Amount       *float64
	Currency     string
	CardLast4    string
	Network      string
	Confidence   float64
	Notes        []string
	SourceType   string
}

var (
	// Keyword-anchored amount first, bare currency+amount as fallback.
	amountPattern = regexp.MustCompile(
		`(?i)(?:total|amount|charged|paid|order total)[:\s]*(\$|USD|EUR|GBP)?\s*(\d{1,6}[.,]\d{2})`)
	amountFallback = regexp.MustCompile(
		`(?i)(\$|USD|EUR|GBP)\s*(\d{1,6}[.,]\d{2})`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:date|dated|order date|purchase date)[:\s]*(\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})`),
		regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
		regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{2,4})`),
	}

	dateLayouts = []string{"2006-01-02", "01/02/2006", "01/02/06", "02/01/2006", "02-01-2006"}

	cardPattern = regexp.MustCompile(
		`(?i)(?:ending\s+in|ending\s*:|\*{2,}|x{2,})\s*(\d{4})`)

	networkPattern = regexp.MustCompile(
		`(?i)\b(visa|mastercard|amex|american express|discover|diners|jcb)\b`)

	merchantPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:merchant|store|retailer|sold by|from)[:\s]+([A-Za-z0-9& ,.\-]{2,50})`),
		regexp.MustCompile(`(?i)(?:thank you for (?:shopping|your order) (?:at|with|from))[:\s]+([A-Za-z0-9& ,.\-]{2,50})`),
	}
)

// FromText extracts receipt fields from plain text. Forwarded-mail
// boilerplate is stripped before matching. Confidence is the fraction of the
// four core fields (merchant, date, amount, card last4) that were found,
// capped at 1.0.
func FromText(text, sourceType string) Result {
	res := Result{Currency: "USD", SourceType: sourceType}
	text = CleanForwardedBody(text)
	found := 0

	if merchant := parseMerchant(text); merchant != "" {
		res.Merchant = merchant
		found++
		res.Notes = append(res.Notes, "merchant: "+merchant)
	}

	if d := parseDate(text); !d.IsZero() {
		res.PurchaseDate = d
		found++
		res.Notes = append(res.Notes, "date: "+d.Format("2006-01-02"))
	}

	if amount, currency, ok := parseAmount(text); ok {
		res.Amount = &amount
		res.Currency = currency
		found++
		res.Notes = append(res.Notes,
			fmt.Sprintf("amount: %s %s", strconv.FormatFloat(amount, 'f', -1, 64), currency))
	}

	last4, network := parseCard(text)
	if last4 != "" {
		res.CardLast4 = last4
		found++
		res.Notes = append(res.Notes, "card last4: "+last4)
	}
	if network != "" {
		res.Network = network
	}

	res.Confidence = min(1.0, float64(found)/4.0)
	return res
}

func parseAmount(text string) (amount float64, currency string, ok bool) {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		m = amountFallback.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, "USD", false
	}

	raw := strings.ReplaceAll(m[2], ",", ".")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, "USD", false
	}

	currency = strings.ToUpper(m[1])
	if currency == "" || currency == "$" {
		currency = "USD"
	}
	return amount, currency, true
}

func parseDate(text string) time.Time {
	for _, pattern := range datePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, m[1]); err == nil {
				return d
			}
		}
	}
	return time.Time{}
}

func parseCard(text string) (last4, network string) {
	if m := cardPattern.FindStringSubmatch(text); m != nil {
		last4 = m[1]
	}
	if m := networkPattern.FindStringSubmatch(text); m != nil {
		network = titleCase(m[1])
	}
	return last4, network
}

func parseMerchant(text string) string {
	for _, pattern := range merchantPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			merchant := strings.TrimSpace(m[1])
			if len(merchant) > 100 {
				merchant = merchant[:100]
			}
			return merchant
		}
	}
	return ""
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
