package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cleared-dev/splitledger/internal/model"
)

// AggregatorParser parses the generic aggregator export: a header row
// naming the columns, then one transaction per row. Column order is free.
type AggregatorParser struct {
	Source string // defaults to "aggregator"
}

const (
	aggregatorFormat     = "aggregator"
	aggregatorDateFormat = "2006-01-02"
)

// Required and optional aggregator columns.
const (
	colTransactionID = "transaction_id"
	colAccountID     = "account_id"
	colDate          = "date"
	colAmount        = "amount"
	colCurrency      = "currency"
	colMerchant      = "merchant"
	colItemID        = "item_id"
)

var aggregatorRequired = []string{colTransactionID, colDate, colAmount}

// Format returns the parser name.
func (p *AggregatorParser) Format() string { return aggregatorFormat }

func (p *AggregatorParser) source() string {
	if p.Source == "" {
		return aggregatorFormat
	}
	return p.Source
}

// Parse reads an aggregator CSV and returns SourceRecords.
func (p *AggregatorParser) Parse(r io.Reader) (Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("reading aggregator header: %w", err)
	}
	cols, err := headerIndex(header, aggregatorRequired)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for row := 2; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading aggregator CSV: %w", err)
		}
		if blank(fields) {
			continue
		}
		rec, err := p.parseRow(cols, fields)
		if err != nil {
			res.Skipped = append(res.Skipped, RowError{Row: row, Err: err})
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func (p *AggregatorParser) parseRow(cols columns, fields []string) (model.SourceRecord, error) {
	id := cols.get(fields, colTransactionID)
	if id == "" {
		return model.SourceRecord{}, errors.New("missing transaction_id")
	}
	date, err := time.Parse(aggregatorDateFormat, cols.get(fields, colDate))
	if err != nil {
		return model.SourceRecord{}, fmt.Errorf("parsing date %q: %w", cols.get(fields, colDate), err)
	}
	cents, err := model.ParseCents(cols.get(fields, colAmount))
	if err != nil {
		return model.SourceRecord{}, err
	}
	currency := strings.ToUpper(cols.get(fields, colCurrency))
	if currency == "" {
		currency = "USD"
	}
	return model.SourceRecord{
		ExternalID:  id,
		Source:      p.source(),
		AccountID:   cols.get(fields, colAccountID),
		Date:        date,
		AmountCents: cents,
		Currency:    currency,
		Merchant:    cols.get(fields, colMerchant),
		ItemRef:     cols.get(fields, colItemID),
	}, nil
}

// columns maps a lower-cased header name to its field index.
type columns map[string]int

func headerIndex(header []string, required []string) (columns, error) {
	cols := make(columns, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// get returns the trimmed field for name, or "" when the column is absent
// or the row is short.
func (c columns) get(fields []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
