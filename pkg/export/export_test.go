package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

func sampleReceipts() []api.Receipt {
	amount := 29.99
	return []api.Receipt{
		{
			ID:                  1,
			Status:              api.StatusProcessed,
			Merchant:            "Acme Corp",
			PurchaseDate:        time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			Amount:              &amount,
			Currency:            "USD",
			CardLast4Seen:       "4321",
			CardNetworkOrIssuer: "Visa",
			SourceType:          "email_pdf",
			DrivePath:           "Receipts/Chase_Sapphire/2024/2024-03/receipt.pdf",
			ProcessedAt:         time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:         2,
			Status:     api.StatusNeedsReview,
			Merchant:   "Corner Store",
			SourceType: "email_body",
		},
	}
}

func TestRecord(t *testing.T) {
	tests := []struct {
		name    string
		receipt api.Receipt
		want    []string
	}{
		{
			name:    "all fields",
			receipt: sampleReceipts()[0],
			want: []string{
				"2024-03-15", "Acme Corp", "29.99", "USD", "Visa 4321",
				"processed", "Receipts/Chase_Sapphire/2024/2024-03/receipt.pdf", "email_pdf",
			},
		},
		{
			name:    "missing fields stay empty",
			receipt: sampleReceipts()[1],
			want:    []string{"", "Corner Store", "", "", "", "needs_review", "", "email_body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := record(tt.receipt)
			if len(got) != len(tt.want) {
				t.Fatalf("record() returned %d fields, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("field %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCSVExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.csv")
	e := NewCSV(path, nil)

	if err := e.Export(context.Background(), sampleReceipts()); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header plus 2 records", len(rows))
	}
	if rows[0][0] != "Purchase Date" {
		t.Errorf("header row starts with %q", rows[0][0])
	}
	if rows[1][1] != "Acme Corp" {
		t.Errorf("first record merchant = %q, want %q", rows[1][1], "Acme Corp")
	}

	// A second export replaces the file rather than appending.
	if err := e.Export(context.Background(), sampleReceipts()[:1]); err != nil {
		t.Fatalf("second Export() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("rereading output: %v", err)
	}
	rows, err = csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parsing rewritten output: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("after rewrite got %d rows, want 2", len(rows))
	}
}

func TestJSONExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.json")
	e := NewJSON(path, nil)

	if err := e.Export(context.Background(), sampleReceipts()); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}

	var records []jsonRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("parsing output: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].PurchaseDate != "2024-03-15" {
		t.Errorf("purchase date = %q, want %q", records[0].PurchaseDate, "2024-03-15")
	}
	if records[0].Amount == nil || *records[0].Amount != 29.99 {
		t.Errorf("amount = %v, want 29.99", records[0].Amount)
	}
	if records[1].PurchaseDate != "" || records[1].Amount != nil {
		t.Errorf("missing fields should be omitted, got date=%q amount=%v",
			records[1].PurchaseDate, records[1].Amount)
	}
}
