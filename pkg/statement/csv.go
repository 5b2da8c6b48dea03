package statement

import (
	"encoding/csv"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	currencyNoise = regexp.MustCompile(`[,$£€\s]`)

	csvDateLayouts = []string{"2006-01-02", "01/02/2006", "02/01/2006", "01-02-2006", "20060102"}
)

// ParseCSV parses a CSV statement. columnMap optionally maps logical field
// names (date, amount, merchant, transaction_id) to CSV header names; when
// nil the first four columns are taken as date, amount, merchant,
// transaction_id in that order. Any bad row fails the whole file.
func ParseCSV(content string, columnMap map[string]string) ([]Transaction, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading csv")
	}
	if len(records) == 0 {
		return nil, errors.New("CSV file is empty or has no header row")
	}

	headers := make([]string, len(records[0]))
	index := make(map[string]int, len(headers))
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		headers[i] = h
		index[h] = i
	}

	var dateIdx, amountIdx, merchantIdx, txnIDIdx int
	merchantIdx, txnIDIdx = -1, -1

	if columnMap != nil {
		for logical, csvCol := range columnMap {
			if _, ok := index[csvCol]; !ok {
				return nil, errors.Errorf(
					"column %q specified in column map for %q not found in CSV headers %v",
					csvCol, logical, headers)
			}
		}
		dateCol, ok := columnMap["date"]
		if !ok {
			return nil, errors.New("column map must include a 'date' key")
		}
		amountCol, ok := columnMap["amount"]
		if !ok {
			return nil, errors.New("column map must include an 'amount' key")
		}
		dateIdx = index[dateCol]
		amountIdx = index[amountCol]
		if col, ok := columnMap["merchant"]; ok {
			merchantIdx = index[col]
		}
		if col, ok := columnMap["transaction_id"]; ok {
			txnIDIdx = index[col]
		}
	} else {
		if len(headers) < 2 {
			return nil, errors.New(
				"CSV must have at least 2 columns (date, amount) when no column map is provided")
		}
		dateIdx, amountIdx = 0, 1
		if len(headers) > 2 {
			merchantIdx = 2
		}
		if len(headers) > 3 {
			txnIDIdx = 3
		}
	}

	field := func(row []string, idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	txns := make([]Transaction, 0, len(records)-1)
	for i, row := range records[1:] {
		rowNum := i + 2

		rawDate := field(row, dateIdx)
		if rawDate == "" {
			return nil, errors.Errorf("row %d: missing date value in column %q", rowNum, headers[dateIdx])
		}
		txnDate, err := parseCSVDate(rawDate)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", rowNum)
		}

		rawAmount := field(row, amountIdx)
		if rawAmount == "" {
			return nil, errors.Errorf("row %d: missing amount value in column %q", rowNum, headers[amountIdx])
		}
		amount, err := decimal.NewFromString(currencyNoise.ReplaceAllString(rawAmount, ""))
		if err != nil {
			return nil, errors.Errorf("row %d: cannot parse amount %q as a number", rowNum, rawAmount)
		}

		txns = append(txns, Transaction{
			Date:          txnDate,
			Amount:        amount,
			Merchant:      field(row, merchantIdx),
			TransactionID: field(row, txnIDIdx),
			Currency:      "USD",
		})
	}

	if len(txns) == 0 {
		return nil, errors.New("CSV file contains no transaction rows")
	}
	return txns, nil
}

func parseCSVDate(value string) (time.Time, error) {
	for _, layout := range csvDateLayouts {
		if d, err := time.Parse(layout, value); err == nil {
			return d, nil
		}
	}
	return time.Time{}, errors.Errorf(
		"cannot parse date %q, expected formats: YYYY-MM-DD, MM/DD/YYYY, DD/MM/YYYY, YYYYMMDD", value)
}
