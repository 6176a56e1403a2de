package model

import (
	"time"
)

// SourceRecord is an immutable transaction as received from the external
// aggregator. Amounts are signed minor units (cents).
type SourceRecord struct {
	ExternalID  string
	Source      string // aggregator tag, e.g. "plaid" or "chase"
	AccountID   string
	Date        time.Time // posting date
	AmountCents int64     // negative = outflow for most feeds
	Currency    string
	Merchant    string // free-text merchant descriptor
	ItemRef     string // owning institution connection, optional
}

// SourceKey identifies a SourceRecord. (ExternalID, Source) is unique.
type SourceKey struct {
	ExternalID string
	Source     string
}

// Key returns the record's unique key.
func (r SourceRecord) Key() SourceKey {
	return SourceKey{ExternalID: r.ExternalID, Source: r.Source}
}

func (k SourceKey) String() string {
	return k.Source + ":" + k.ExternalID
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
