package mutation

import (
	"slices"

	"github.com/cleared-dev/splitledger/internal/model"
)

// PreserveEnrichment carries verified enrichment from previous onto payloads.
//
// Enrichment is copied position by position, and only when the split
// cardinality is unchanged; previous records that were never verified
// contribute nothing. Payloads that receive nothing are reset to an empty,
// unverified state. payloads is modified in place and returned.
func PreserveEnrichment(payloads []model.DerivedPayload, previous []model.DerivedRecord) []model.DerivedPayload {
	for i := range payloads {
		payloads[i].Enrichment = model.Enrichment{}
		payloads[i].IsVerified = false
	}
	if len(previous) != len(payloads) {
		return payloads
	}

	prev := slices.Clone(previous)
	slices.SortStableFunc(prev, func(a, b model.DerivedRecord) int {
		return a.SplitIndex - b.SplitIndex
	})

	for i, p := range prev {
		if !p.IsVerified {
			continue
		}
		e := p.Enrichment
		e.Tags = slices.Clone(e.Tags)
		payloads[i].Enrichment = e
		payloads[i].IsVerified = true
	}
	return payloads
}

// DefaultTransform mirrors rec 1:1, preserving verified enrichment.
func DefaultTransform(rec model.SourceRecord, previous []model.DerivedRecord) []model.DerivedPayload {
	return PreserveEnrichment([]model.DerivedPayload{rec.Mirror()}, previous)
}
