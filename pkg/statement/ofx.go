package statement

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	stmtTrnBlock = regexp.MustCompile(`(?is)<STMTTRN>(.*?)</STMTTRN>`)
	stmtTrnOpen  = regexp.MustCompile(`(?i)<STMTTRN>`)
	nonDigits    = regexp.MustCompile(`[^0-9]`)
)

// ParseOFX parses an OFX or QFX statement. Both the traditional SGML format
// (tag per line, no closing tags) and XML-style OFX 2.x are handled. Any bad
// transaction block fails the whole file.
func ParseOFX(content string) ([]Transaction, error) {
	text := strings.ReplaceAll(content, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var blocks []string
	for _, m := range stmtTrnBlock.FindAllStringSubmatch(text, -1) {
		blocks = append(blocks, m[1])
	}
	if len(blocks) == 0 {
		// SGML exports often omit closing tags; split on the opening tag
		// and treat everything up to the next one as a block.
		parts := stmtTrnOpen.Split(text, -1)
		if len(parts) > 1 {
			blocks = parts[1:]
		}
	}
	if len(blocks) == 0 {
		return nil, errors.New("no transaction blocks (<STMTTRN>) found in OFX/QFX file")
	}

	txns := make([]Transaction, 0, len(blocks))
	for i, block := range blocks {
		txn, err := parseOFXBlock(block, i+1)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func ofxField(block, tag string) string {
	pattern := regexp.MustCompile(`(?i)<` + tag + `>\s*([^<\n]+)`)
	if m := pattern.FindStringSubmatch(block); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func parseOFXBlock(block string, idx int) (Transaction, error) {
	rawDate := ofxField(block, "DTPOSTED")
	if rawDate == "" {
		rawDate = ofxField(block, "DTUSER")
	}
	if rawDate == "" {
		return Transaction{}, errors.Errorf("transaction %d: missing DTPOSTED/DTUSER field", idx)
	}
	txnDate, err := parseOFXDate(rawDate)
	if err != nil {
		return Transaction{}, errors.Wrapf(err, "transaction %d", idx)
	}

	rawAmount := ofxField(block, "TRNAMT")
	if rawAmount == "" {
		return Transaction{}, errors.Errorf("transaction %d: missing TRNAMT field", idx)
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return Transaction{}, errors.Errorf("transaction %d: cannot parse amount %q", idx, rawAmount)
	}

	merchant := ofxField(block, "NAME")
	if merchant == "" {
		merchant = ofxField(block, "MEMO")
	}

	currency := ofxField(block, "CURDEF")
	if currency == "" {
		currency = ofxField(block, "CURRENCY")
	}
	// The CURRENCY aggregate can carry child tags; fall back when the value
	// is clearly not a currency code.
	if currency == "" || len(currency) > 10 {
		currency = "USD"
	}

	return Transaction{
		Date:          txnDate,
		Amount:        amount,
		Merchant:      merchant,
		TransactionID: ofxField(block, "FITID"),
		Currency:      currency,
	}, nil
}

// parseOFXDate handles YYYYMMDD with optional time, fraction and timezone
// suffixes, e.g. 20240315120000.000[-5:EST].
func parseOFXDate(value string) (time.Time, error) {
	raw := nonDigits.ReplaceAllString(value, "")
	if len(raw) < 8 {
		return time.Time{}, errors.Errorf("cannot parse OFX date %q (expected YYYYMMDD...)", value)
	}
	raw = raw[:8]

	year, _ := strconv.Atoi(raw[:4])
	month, _ := strconv.Atoi(raw[4:6])
	day, _ := strconv.Atoi(raw[6:8])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, errors.Errorf("invalid OFX date %q", value)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}
