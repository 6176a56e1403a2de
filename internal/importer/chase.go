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

// ChaseParser parses Chase bank checking CSV exports.
type ChaseParser struct {
	AccountID string
}

const (
	chaseSource     = "chase"
	chaseDateFormat = "01/02/2006"
	chaseNumFields  = 7
	chaseColDate    = 1
	chaseColDesc    = 2
	chaseColAmount  = 3
)

// Format returns the parser name.
func (p *ChaseParser) Format() string { return chaseSource }

// Parse reads a Chase CSV and returns SourceRecords. Rows with the wrong
// number of fields are skipped like any other malformed row.
func (p *ChaseParser) Parse(r io.Reader) (Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("reading chase header: %w", err)
	}

	var res Result
	seen := make(map[string]int)
	for row := 2; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading chase CSV: %w", err)
		}
		if blank(fields) {
			continue
		}
		if len(fields) != chaseNumFields {
			res.Skipped = append(res.Skipped, RowError{
				Row: row,
				Err: fmt.Errorf("expected %d fields, got %d", chaseNumFields, len(fields)),
			})
			continue
		}
		rec, err := p.parseRow(fields)
		if err != nil {
			res.Skipped = append(res.Skipped, RowError{Row: row, Err: err})
			continue
		}
		// Chase exports carry no transaction id; identical rows on the same
		// day get an ordinal suffix.
		seen[rec.ExternalID]++
		if n := seen[rec.ExternalID]; n > 1 {
			rec.ExternalID = fmt.Sprintf("%s-%d", rec.ExternalID, n)
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func (p *ChaseParser) parseRow(row []string) (model.SourceRecord, error) {
	date, err := time.Parse(chaseDateFormat, row[chaseColDate])
	if err != nil {
		return model.SourceRecord{}, fmt.Errorf("parsing date %q: %w", row[chaseColDate], err)
	}

	cents, err := model.ParseCents(row[chaseColAmount])
	if err != nil {
		return model.SourceRecord{}, err
	}

	desc := strings.TrimSpace(row[chaseColDesc])
	return model.SourceRecord{
		ExternalID:  makeChaseRef(date, desc, cents),
		Source:      chaseSource,
		AccountID:   p.AccountID,
		Date:        date,
		AmountCents: cents,
		Currency:    "USD",
		Merchant:    desc,
	}, nil
}

// makeChaseRef creates a reference like chase_20250103_GITHUBPROS_400.
func makeChaseRef(date time.Time, desc string, cents int64) string {
	prefix := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, desc)
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	if cents < 0 {
		cents = -cents
	}
	return fmt.Sprintf("chase_%s_%s_%d", date.Format("20060102"), prefix, cents)
}
