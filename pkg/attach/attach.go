// Package attach picks the attachment most likely to be the actual receipt
// from a message's PDF attachments.
package attach

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// Decision values recorded against each scored attachment.
const (
	DecisionSelected = "selected"
	DecisionIgnored  = "ignored"
	DecisionSkipped  = "skipped_too_large"
)

const (
	exactWordBonus  = 100
	positiveBonus   = 40
	negativePenalty = 60
)

var (
	receiptWord = regexp.MustCompile(`\breceipt\b`)

	// positivePhrases are substring matches; the whole-word "receipt" bonus
	// is handled separately so "receipt_2024.pdf" always beats files that
	// merely contain a phrase.
	positivePhrases = []string{
		"payment receipt",
		"order receipt",
		"purchase receipt",
		"transaction receipt",
	}

	negativeWords = []*regexp.Regexp{
		regexp.MustCompile(`\binvoice\b`),
		regexp.MustCompile(`\bstatement\b`),
		regexp.MustCompile(`\bquote\b`),
		regexp.MustCompile(`\bestimate\b`),
		regexp.MustCompile(`\bpacking slip\b`),
		regexp.MustCompile(`\bproforma\b`),
	}

	separators = regexp.MustCompile(`[_\-]`)
)

// Candidate is one attachment under consideration. Timestamp is the message
// time, used only as a tie-breaker.
type Candidate struct {
	Filename  string
	Timestamp time.Time
	Size      int64
}

// Scored is a candidate with its computed score and audit trail.
type Scored struct {
	Candidate
	Normalized   string
	Score        int
	HasExactWord bool
	Decision     string
	Reason       string
}

// Normalize lowercases a filename, strips its extension and turns
// underscores and hyphens into spaces.
func Normalize(filename string) string {
	name := filename
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	name = separators.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// Score computes the receipt-likelihood score for a single filename.
func Score(c Candidate) Scored {
	s := Scored{Candidate: c, Normalized: Normalize(c.Filename)}
	var reasons []string

	if receiptWord.MatchString(s.Normalized) {
		s.Score += exactWordBonus
		s.HasExactWord = true
		reasons = append(reasons, fmt.Sprintf("+%d whole-word 'receipt'", exactWordBonus))
	}
	for _, phrase := range positivePhrases {
		if strings.Contains(s.Normalized, phrase) {
			s.Score += positiveBonus
			reasons = append(reasons, fmt.Sprintf("+%d positive phrase '%s'", positiveBonus, phrase))
		}
	}
	for _, neg := range negativeWords {
		if m := neg.FindString(s.Normalized); m != "" {
			s.Score -= negativePenalty
			reasons = append(reasons, fmt.Sprintf("-%d negative keyword '%s'", negativePenalty, m))
		}
	}

	if len(reasons) == 0 {
		s.Reason = "no keywords matched"
	} else {
		s.Reason = strings.Join(reasons, "; ")
	}
	return s
}

// Select scores every candidate and returns the winner, or nil when no
// candidate scores above zero, plus the full scored list for auditing.
// Candidates above maxSize bytes (when maxSize > 0) are skipped before
// scoring. Ties break on exact-word presence, then newest timestamp, then
// filename, so selection is deterministic for a fixed input.
func Select(candidates []Candidate, maxSize int64) (*Scored, []Scored) {
	if len(candidates) == 0 {
		return nil, nil
	}

	all := make([]Scored, 0, len(candidates))
	eligible := make([]int, 0, len(candidates))
	for _, c := range candidates {
		if maxSize > 0 && c.Size > maxSize {
			all = append(all, Scored{
				Candidate:  c,
				Normalized: Normalize(c.Filename),
				Decision:   DecisionSkipped,
				Reason:     fmt.Sprintf("attachment exceeds %d byte limit", maxSize),
			})
			continue
		}
		s := Score(c)
		eligible = append(eligible, len(all))
		all = append(all, s)
	}

	positive := make([]int, 0, len(eligible))
	for _, i := range eligible {
		if all[i].Score > 0 {
			positive = append(positive, i)
		}
	}
	if len(positive) == 0 {
		for _, i := range eligible {
			all[i].Decision = DecisionIgnored
			all[i].Reason += " | score <= 0, not a receipt"
		}
		return nil, all
	}

	sort.SliceStable(positive, func(a, b int) bool {
		x, y := &all[positive[a]], &all[positive[b]]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if x.HasExactWord != y.HasExactWord {
			return x.HasExactWord
		}
		if !x.Timestamp.Equal(y.Timestamp) {
			return x.Timestamp.After(y.Timestamp)
		}
		return x.Filename < y.Filename
	})

	winner := positive[0]
	all[winner].Decision = DecisionSelected
	all[winner].Reason += " | selected as best receipt PDF"
	for _, i := range positive[1:] {
		all[i].Decision = DecisionIgnored
		all[i].Reason += " | ignored: lower score/priority than selected"
	}
	for _, i := range eligible {
		if all[i].Decision == "" {
			all[i].Decision = DecisionIgnored
			all[i].Reason += " | score <= 0"
		}
	}

	return &all[winner], all
}

// Decisions converts a selection run into audit rows for the store.
func Decisions(all []Scored) []api.AttachmentDecision {
	out := make([]api.AttachmentDecision, 0, len(all))
	for _, s := range all {
		out = append(out, api.AttachmentDecision{
			Filename: s.Filename,
			Score:    s.Score,
			Decision: s.Decision,
			Reason:   s.Reason,
		})
	}
	return out
}
