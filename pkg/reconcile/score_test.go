package reconcile

import (
	"testing"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

func fptr(f float64) *float64 { return &f }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAmountScore(t *testing.T) {
	tests := []struct {
		name    string
		line    float64
		receipt *float64
		want    float64
	}{
		{"exact", -29.99, fptr(29.99), 0.50},
		{"absolute values compared", 29.99, fptr(-29.99), 0.50},
		{"within one percent", -100.00, fptr(99.50), 0.40},
		{"within five percent", -100.00, fptr(96.00), 0.25},
		{"too far apart", -100.00, fptr(50.00), 0},
		{"both zero", 0, fptr(0), 0.50},
		{"one zero", 0, fptr(10.00), 0},
		{"missing receipt amount", -10.00, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := amountScore(tt.line, tt.receipt); got != tt.want {
				t.Errorf("amountScore(%v, %v) = %v, want %v", tt.line, tt.receipt, got, tt.want)
			}
		})
	}
}

func TestDateScore(t *testing.T) {
	base := day(2024, 3, 15)
	tests := []struct {
		name    string
		receipt time.Time
		want    float64
	}{
		{"same day", day(2024, 3, 15), 0.30},
		{"three days", day(2024, 3, 12), 0.20},
		{"seven days", day(2024, 3, 22), 0.10},
		{"eight days", day(2024, 3, 23), 0},
		{"missing date", time.Time{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dateScore(base, tt.receipt); got != tt.want {
				t.Errorf("dateScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMerchantScore(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		receipt string
		want    float64
	}{
		{"exact after normalization", "ACME, Corp.", "acme corp", 0.20},
		{"substring", "Acme", "Acme Corp", 0.15},
		{"first word", "Acme Stores #42", "Acme Warehouse", 0.10},
		{"unrelated", "Acme", "Bravo", 0},
		{"empty line merchant", "", "Acme", 0},
		{"empty receipt merchant", "Acme", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := merchantScore(tt.line, tt.receipt); got != tt.want {
				t.Errorf("merchantScore(%q, %q) = %v, want %v", tt.line, tt.receipt, got, tt.want)
			}
		})
	}
}

func TestCardScore(t *testing.T) {
	if got := cardScore(7, 7); got != 0.10 {
		t.Errorf("same card = %v, want 0.10", got)
	}
	if got := cardScore(7, 8); got != 0 {
		t.Errorf("different card = %v, want 0", got)
	}
	if got := cardScore(7, 0); got != 0 {
		t.Errorf("unresolved card = %v, want 0", got)
	}
}

func TestScoreSumCanExceedOne(t *testing.T) {
	line := &api.StatementLine{
		CardID:   7,
		TxnDate:  day(2024, 3, 15),
		Amount:   -29.99,
		Merchant: "Acme Corp",
	}
	receipt := &api.Receipt{
		PhysicalCardID: 7,
		PurchaseDate:   day(2024, 3, 15),
		Amount:         fptr(29.99),
		Merchant:       "acme corp",
		DriveFileID:    "d1",
	}

	got := Score(line, receipt)
	if got != 1.10 {
		t.Errorf("Score = %v, want 1.10 (not clamped)", got)
	}
}

func TestSuggest(t *testing.T) {
	line := &api.StatementLine{
		TxnDate:  day(2024, 3, 15),
		Amount:   -29.99,
		Merchant: "Acme",
	}

	receipts := []api.Receipt{
		{ID: 1, Merchant: "Acme Corp", Amount: fptr(29.99), PurchaseDate: day(2024, 3, 15), DriveFileID: "d1"},
		{ID: 2, Merchant: "Acme Corp", Amount: fptr(29.99), PurchaseDate: day(2024, 3, 15)}, // not stored
		{ID: 3, Merchant: "Bravo", Amount: fptr(500.00), PurchaseDate: day(2023, 1, 1), DriveFileID: "d3"},
		{ID: 4, Merchant: "Acme Corp", Amount: fptr(29.99), PurchaseDate: day(2024, 3, 17), DriveFileID: "d4"},
	}

	got := Suggest(line, receipts, 0, 0)
	if len(got) != 2 {
		t.Fatalf("got %d suggestions, want 2: %+v", len(got), got)
	}
	if got[0].Receipt.ID != 1 {
		t.Errorf("best suggestion = receipt %d, want 1", got[0].Receipt.ID)
	}
	if got[0].Score != 0.95 {
		t.Errorf("best score = %v, want 0.95", got[0].Score)
	}
	if got[1].Receipt.ID != 4 {
		t.Errorf("second suggestion = receipt %d, want 4", got[1].Receipt.ID)
	}
	if got[1].Score != 0.85 {
		t.Errorf("second score = %v, want 0.85", got[1].Score)
	}
}

func TestSuggestLimit(t *testing.T) {
	line := &api.StatementLine{TxnDate: day(2024, 3, 15), Amount: -10.00}
	var receipts []api.Receipt
	for i := int64(1); i <= 8; i++ {
		receipts = append(receipts, api.Receipt{
			ID:           i,
			Amount:       fptr(10.00),
			PurchaseDate: day(2024, 3, 15),
			DriveFileID:  "d",
		})
	}

	got := Suggest(line, receipts, 0.5, 3)
	if len(got) != 3 {
		t.Errorf("got %d suggestions, want 3", len(got))
	}
}

func TestSuggestThreshold(t *testing.T) {
	line := &api.StatementLine{TxnDate: day(2024, 3, 15), Amount: -10.00}
	receipts := []api.Receipt{
		// amount only: 0.50, meets the default threshold
		{ID: 1, Amount: fptr(10.00), DriveFileID: "d1"},
		// date only: 0.30, below it
		{ID: 2, PurchaseDate: day(2024, 3, 15), DriveFileID: "d2"},
	}

	got := Suggest(line, receipts, 0, 0)
	if len(got) != 1 || got[0].Receipt.ID != 1 {
		t.Fatalf("suggestions = %+v, want only receipt 1", got)
	}
}

func TestSuggestThresholdComparesRawScore(t *testing.T) {
	// Same-day date (0.30) plus substring merchant (0.15) sums to
	// 0.44999999999999996 in floats. The threshold must see that raw value,
	// not the 0.45 it rounds to.
	line := &api.StatementLine{
		TxnDate:  day(2024, 3, 15),
		Amount:   -10.00,
		Merchant: "Acme",
	}
	receipts := []api.Receipt{
		{ID: 1, Merchant: "Acme Corp", PurchaseDate: day(2024, 3, 15), DriveFileID: "d1"},
	}

	if got := Suggest(line, receipts, 0.45, 0); len(got) != 0 {
		t.Fatalf("suggestions = %+v, want none at threshold 0.45", got)
	}

	// Just under the raw sum it qualifies, and the reported score is rounded.
	got := Suggest(line, receipts, 0.449, 0)
	if len(got) != 1 {
		t.Fatalf("suggestions = %+v, want one at threshold 0.449", got)
	}
	if got[0].Score != 0.45 {
		t.Errorf("reported score = %v, want 0.45", got[0].Score)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ACME, Corp.", "acme corp"},
		{"  Blue   Bottle  ", "blue bottle"},
		{"CAFE*42", "cafe 42"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
