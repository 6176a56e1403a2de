// Package export writes the derived view as CSV for spreadsheets and
// downstream reporting.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cleared-dev/splitledger/internal/model"
)

// Header is the CSV header of an export.
const Header = "external_id,source,source_external_id,split_index,date,amount,merchant,order_id,product_id,category_id,method,verified,tags,notes"

const (
	numFields     = 14
	dateFormat    = "2006-01-02"
	tagSep        = ";"
	colExternalID = 0
	colSource     = 1
	colSourceID   = 2
	colSplitIndex = 3
	colDate       = 4
	colAmount     = 5
	colMerchant   = 6
	colOrderID    = 7
	colProductID  = 8
	colCategory   = 9
	colMethod     = 10
	colVerified   = 11
	colTags       = 12
	colNotes      = 13
)

// WriteRecords writes recs to w, header first.
func WriteRecords(w io.Writer, recs []model.DerivedRecord) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, rec := range recs {
		if err := cw.Write(MarshalRecord(rec)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes recs to a new file at path.
func WriteFile(path string, recs []model.DerivedRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export: %w", err)
	}
	if err := WriteRecords(f, recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MarshalRecord converts a DerivedRecord to a CSV row.
func MarshalRecord(rec model.DerivedRecord) []string {
	row := make([]string, numFields)
	row[colExternalID] = rec.ExternalID
	row[colSource] = rec.Source.Source
	row[colSourceID] = rec.Source.ExternalID
	row[colSplitIndex] = strconv.Itoa(rec.SplitIndex)
	row[colDate] = rec.Date.Format(dateFormat)
	row[colAmount] = model.FormatCents(rec.AmountCents)
	row[colMerchant] = rec.Merchant
	row[colOrderID] = rec.OrderID
	row[colProductID] = rec.ProductID
	row[colCategory] = rec.Enrichment.CategoryID
	row[colMethod] = string(rec.Enrichment.Provenance.Method)
	row[colVerified] = strconv.FormatBool(rec.IsVerified)
	row[colTags] = strings.Join(rec.Enrichment.Tags, tagSep)
	row[colNotes] = rec.Enrichment.Notes
	return row
}
