// Package reconcile matches imported statement lines to stored receipts.
//
// Scoring weights per component:
//
//	amount:   exact → 0.50, within 1% → 0.40, within 5% → 0.25
//	date:     same day → 0.30, within 3d → 0.20, within 7d → 0.10
//	merchant: exact → 0.20, substring → 0.15, first word → 0.10
//	card:     same physical card → 0.10 bonus
//
// The weights are calibrated so a perfect amount+date pair clears the default
// threshold on its own. The components sum to 1.10, not 1.00; a total above
// 1.0 is kept as-is.
package reconcile

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// DefaultThreshold is the minimum score for a suggestion.
const DefaultThreshold = 0.50

// DefaultLimit caps how many suggestions are returned per line.
const DefaultLimit = 5

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9 ]`)
	spaceRuns = regexp.MustCompile(`\s+`)
)

// Suggestion pairs a candidate receipt with its match score.
type Suggestion struct {
	Receipt api.Receipt
	Score   float64
}

// Normalize lowercases merchant text and strips punctuation for fuzzy
// comparison.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = nonAlnum.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRuns.ReplaceAllString(text, " "))
}

// Score computes the match score for a (line, receipt) pair. Pure and
// deterministic, safe to call repeatedly.
func Score(line *api.StatementLine, receipt *api.Receipt) float64 {
	return amountScore(line.Amount, receipt.Amount) +
		dateScore(line.TxnDate, receipt.PurchaseDate) +
		merchantScore(line.Merchant, receipt.Merchant) +
		cardScore(line.CardID, receipt.PhysicalCardID)
}

// Statement debits are usually negative while receipts record positive
// totals, so amounts compare by absolute value.
func amountScore(lineAmount float64, receiptAmount *float64) float64 {
	if receiptAmount == nil {
		return 0
	}
	la, ra := math.Abs(lineAmount), math.Abs(*receiptAmount)
	if la == 0 && ra == 0 {
		return 0.50
	}
	if la == 0 || ra == 0 {
		return 0
	}
	diffPct := math.Abs(la-ra) / math.Max(la, ra)
	switch {
	case diffPct == 0:
		return 0.50
	case diffPct <= 0.01:
		return 0.40
	case diffPct <= 0.05:
		return 0.25
	}
	return 0
}

func dateScore(lineDate, receiptDate time.Time) float64 {
	if receiptDate.IsZero() {
		return 0
	}
	delta := math.Abs(truncateDay(lineDate).Sub(truncateDay(receiptDate)).Hours() / 24)
	switch {
	case delta == 0:
		return 0.30
	case delta <= 3:
		return 0.20
	case delta <= 7:
		return 0.10
	}
	return 0
}

func merchantScore(lineMerchant, receiptMerchant string) float64 {
	lm, rm := Normalize(lineMerchant), Normalize(receiptMerchant)
	if lm == "" || rm == "" {
		return 0
	}
	if lm == rm {
		return 0.20
	}
	if strings.Contains(rm, lm) || strings.Contains(lm, rm) {
		return 0.15
	}
	lmWords, rmWords := strings.Fields(lm), strings.Fields(rm)
	if len(lmWords) > 0 && len(rmWords) > 0 && lmWords[0] == rmWords[0] {
		return 0.10
	}
	return 0
}

func cardScore(lineCardID, receiptCardID int64) float64 {
	if receiptCardID != 0 && lineCardID == receiptCardID {
		return 0.10
	}
	return 0
}

// Suggest scores every stored receipt against the line and returns those at
// or above threshold, sorted by score descending, truncated to limit. The
// threshold compares against the raw sum; rounding to 3 decimals happens only
// on the reported score, so a sum a hair under threshold stays excluded.
// Receipts without a storage pointer are skipped.
func Suggest(line *api.StatementLine, receipts []api.Receipt, threshold float64, limit int) []Suggestion {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	type candidate struct {
		receipt api.Receipt
		raw     float64
	}
	var matched []candidate
	for i := range receipts {
		if !receipts[i].Stored() {
			continue
		}
		raw := Score(line, &receipts[i])
		if raw >= threshold {
			matched = append(matched, candidate{receipt: receipts[i], raw: raw})
		}
	}

	// Stable so equal scores keep store order.
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].raw > matched[j].raw })

	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Suggestion, 0, len(matched))
	for _, c := range matched {
		out = append(out, Suggestion{Receipt: c.receipt, Score: round3(c.raw)})
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
