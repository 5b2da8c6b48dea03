// Package export writes stored receipts to external formats. Every exporter
// consumes the same receipt listing and emits one row per receipt.
package export

import (
	"context"
	"strconv"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// Exporter writes a receipt listing to its destination.
type Exporter interface {
	Export(ctx context.Context, receipts []api.Receipt) error
}

// headers is the column layout shared by all exporters.
var headers = []string{
	"Purchase Date", "Merchant", "Amount", "Currency", "Card", "Status", "Drive Path", "Source",
}

// record renders one receipt as a row. Missing fields render as empty strings
// so extraction gaps stay visible in the output.
func record(r api.Receipt) []string {
	date := ""
	if !r.PurchaseDate.IsZero() {
		date = r.PurchaseDate.Format("2006-01-02")
	}
	amount := ""
	if r.Amount != nil {
		amount = strconv.FormatFloat(*r.Amount, 'f', 2, 64)
	}
	return []string{
		date,
		r.Merchant,
		amount,
		r.Currency,
		cardLabel(r),
		string(r.Status),
		r.DrivePath,
		r.SourceType,
	}
}

func cardLabel(r api.Receipt) string {
	switch {
	case r.CardNetworkOrIssuer != "" && r.CardLast4Seen != "":
		return r.CardNetworkOrIssuer + " " + r.CardLast4Seen
	case r.CardLast4Seen != "":
		return r.CardLast4Seen
	default:
		return r.CardNetworkOrIssuer
	}
}
