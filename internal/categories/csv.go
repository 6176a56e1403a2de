package categories

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/cleared-dev/splitledger/internal/model"
)

const (
	numFields = 4
	colID     = 0
	colName   = 1
	colParent = 2
	colDesc   = 3
)

// Header is the CSV header for chart.csv.
var Header = []string{"category_id", "name", "parent_id", "description"}

// ReadCategories reads chart.csv.
func ReadCategories(r io.Reader) ([]model.Category, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading categories CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var cats []model.Category
	for i, rec := range records[1:] {
		c, err := UnmarshalCategory(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		cats = append(cats, c)
	}
	return cats, nil
}

// WriteCategories writes chart.csv.
func WriteCategories(w io.Writer, cats []model.Category) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, c := range cats {
		if err := cw.Write(MarshalCategory(c)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return cw.Error()
}

// MarshalCategory converts a Category to a CSV row.
func MarshalCategory(c model.Category) []string {
	row := make([]string, numFields)
	row[colID] = c.ID
	row[colName] = c.Name
	row[colParent] = c.ParentID
	row[colDesc] = c.Description
	return row
}

// UnmarshalCategory converts a CSV row to a Category.
func UnmarshalCategory(record []string) (model.Category, error) {
	if len(record) != numFields {
		return model.Category{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}
	if record[colID] == "" {
		return model.Category{}, fmt.Errorf("missing category_id")
	}
	return model.Category{
		ID:          record[colID],
		Name:        record[colName],
		ParentID:    record[colParent],
		Description: record[colDesc],
	}, nil
}
