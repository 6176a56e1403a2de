// Package matching provides the per-batch amount index used to find
// candidate source records for a marketplace order.
package matching

import (
	"github.com/cleared-dev/splitledger/internal/model"
)

// Index groups source records by exact signed amount. Candidates for an
// amount are kept in insertion order so lookups are deterministic.
//
// An Index is built once per batch and is read-only afterwards.
type Index struct {
	byAmount map[int64][]model.SourceRecord
	size     int
}

// New builds an Index over records.
func New(records []model.SourceRecord) *Index {
	idx := &Index{byAmount: make(map[int64][]model.SourceRecord)}
	for _, r := range records {
		idx.byAmount[r.AmountCents] = append(idx.byAmount[r.AmountCents], r)
	}
	idx.size = len(records)
	return idx
}

// Candidates returns records whose amount is exactly amountCents, in
// insertion order. The returned slice must not be modified.
func (idx *Index) Candidates(amountCents int64) []model.SourceRecord {
	return idx.byAmount[amountCents]
}

// Near returns records whose amount lies within tolerance cents of
// amountCents, excluding exact matches. Order: ascending distance, then
// below before above, then insertion order.
func (idx *Index) Near(amountCents, tolerance int64) []model.SourceRecord {
	var out []model.SourceRecord
	for d := int64(1); d <= tolerance; d++ {
		out = append(out, idx.byAmount[amountCents-d]...)
		out = append(out, idx.byAmount[amountCents+d]...)
	}
	return out
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	return idx.size
}
