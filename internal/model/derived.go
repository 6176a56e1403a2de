package model

import (
	"time"
)

// AssignmentMethod records how a category came to be set on a derived record.
type AssignmentMethod string

const (
	MethodManual    AssignmentMethod = "manual"
	MethodAutomated AssignmentMethod = "automated"
	MethodMigration AssignmentMethod = "migration"
)

// Valid reports whether m is a known method. The empty method is valid and
// means "never assigned".
func (m AssignmentMethod) Valid() bool {
	switch m {
	case "", MethodManual, MethodAutomated, MethodMigration:
		return true
	}
	return false
}

// Provenance describes who assigned a category and when.
type Provenance struct {
	Method       AssignmentMethod
	Model        string
	ModelVersion string
	AssignedAt   time.Time
}

// Enrichment is the user- or automation-assigned metadata on a derived record
// that must survive regeneration while split cardinality is stable.
type Enrichment struct {
	CategoryID  string
	Provenance  Provenance
	MerchantRef string
	Notes       string // free text, e.g. a cached summary
	Tags        []string
}

// DerivedPayload is the plain field-value output of the mutation pipeline for
// one derived record. Storage turns payloads into DerivedRecords.
type DerivedPayload struct {
	ExternalID  string
	SplitIndex  int // 0 when unsplit
	AmountCents int64
	Date        time.Time
	Merchant    string
	OrderID     string // set when derived from a marketplace order
	ProductID   string
	Enrichment  Enrichment
	IsVerified  bool
}

// DerivedRecord is the mutable, reportable view of a source transaction.
// Many DerivedRecords may reference one SourceRecord.
type DerivedRecord struct {
	DerivedPayload
	Source    SourceKey
	UpdatedAt time.Time
}

// DerivedKey identifies a DerivedRecord. Derived external IDs are unique only
// within their source record, so the source key is part of the identity.
type DerivedKey struct {
	Source     SourceKey
	ExternalID string
}

// Key returns the record's unique key.
func (r DerivedRecord) Key() DerivedKey {
	return DerivedKey{Source: r.Source, ExternalID: r.ExternalID}
}

// Derived returns the key of the derived record externalID under k.
func (k SourceKey) Derived(externalID string) DerivedKey {
	return DerivedKey{Source: k, ExternalID: externalID}
}

func (k DerivedKey) String() string {
	return k.Source.String() + "/" + k.ExternalID
}

// SumCents returns the total amount of payloads.
func SumCents(payloads []DerivedPayload) int64 {
	var total int64
	for _, p := range payloads {
		total += p.AmountCents
	}
	return total
}

// Mirror returns the unsplit 1:1 payload for r.
func (r SourceRecord) Mirror() DerivedPayload {
	return DerivedPayload{
		ExternalID:  r.ExternalID,
		AmountCents: r.AmountCents,
		Date:        r.Date,
		Merchant:    r.Merchant,
	}
}
