// Package reconcile pairs marketplace orders with the source transactions
// that paid for them.
//
// Matching is exact on amount and bounded on date: an order matches the
// unclaimed record of the same total whose posting date lags the order date
// by the fewest non-negative days, up to MaxLagDays. Orders are processed in
// ascending (date, order id) order and each record can be claimed once, so
// earlier orders win contested records. Equal lags resolve to the candidate
// seen first in the batch.
package reconcile

import (
	"cmp"
	"slices"
	"time"

	"github.com/cleared-dev/splitledger/internal/matching"
	"github.com/cleared-dev/splitledger/internal/model"
)

// DefaultMaxLagDays bounds how long after an order its charge may post.
const DefaultMaxLagDays = 30

// DefaultNearMissToleranceCents is the amount slack used for near-miss reports.
const DefaultNearMissToleranceCents = 100

// Options controls matching.
type Options struct {
	MaxLagDays int
	// PurchasesNegative is true when the feed records purchases as negative
	// amounts; an order of 5000 then matches a record of -5000.
	PurchasesNegative bool
	// NearMiss, when set, receives diagnostics for each unmatched order. It is
	// called after the order's outcome is decided and cannot change it.
	NearMiss               func(NearMiss)
	NearMissToleranceCents int64
}

// DefaultOptions returns the standard 30-day, negative-purchase options with
// near-miss scanning disabled.
func DefaultOptions() Options {
	return Options{
		MaxLagDays:             DefaultMaxLagDays,
		PurchasesNegative:      true,
		NearMissToleranceCents: DefaultNearMissToleranceCents,
	}
}

// Rejection records an input that was skipped as malformed.
type Rejection struct {
	ID     string
	Reason string
}

// Report is the outcome of reconciling one batch.
type Report struct {
	Results         []model.MatchResult // one per accepted order, in processing order
	RejectedOrders  []Rejection
	RejectedRecords []Rejection
}

// Matches returns matched record keys mapped to their order IDs.
func (r *Report) Matches() map[model.SourceKey]string {
	m := make(map[model.SourceKey]string)
	for _, res := range r.Results {
		if res.Matched() {
			m[res.Record] = res.OrderID
		}
	}
	return m
}

// Unmatched returns results for orders that found no record.
func (r *Report) Unmatched() []model.MatchResult {
	var out []model.MatchResult
	for _, res := range r.Results {
		if !res.Matched() {
			out = append(out, res)
		}
	}
	return out
}

// Reconciler owns the index and claimed set for a single batch.
type Reconciler struct {
	opts     Options
	index    *matching.Index
	claimed  map[model.SourceKey]string
	rejected []Rejection
}

// New indexes records for one batch. Malformed records are left out of the
// index and reported in the Report.
func New(records []model.SourceRecord, opts Options) *Reconciler {
	if opts.MaxLagDays < 0 {
		opts.MaxLagDays = 0
	}

	valid := make([]model.SourceRecord, 0, len(records))
	var rejected []Rejection
	for _, rec := range records {
		if reason := validateRecord(rec); reason != "" {
			rejected = append(rejected, Rejection{ID: rec.Key().String(), Reason: reason})
			continue
		}
		valid = append(valid, rec)
	}

	return &Reconciler{
		opts:     opts,
		index:    matching.New(valid),
		claimed:  make(map[model.SourceKey]string),
		rejected: rejected,
	}
}

// Reconcile matches orders against the indexed records. A Reconciler is meant
// to be used for one call; records claimed by one call stay claimed.
func (r *Reconciler) Reconcile(orders map[string]model.MarketplaceOrder) *Report {
	report := &Report{RejectedRecords: r.rejected}

	sorted := make([]model.MarketplaceOrder, 0, len(orders))
	for key, o := range orders {
		if o.OrderID == "" {
			o.OrderID = key
		}
		if reason := validateOrder(o); reason != "" {
			report.RejectedOrders = append(report.RejectedOrders, Rejection{ID: o.OrderID, Reason: reason})
			continue
		}
		sorted = append(sorted, o)
	}
	slices.SortFunc(sorted, func(a, b model.MarketplaceOrder) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.OrderID, b.OrderID)
	})
	slices.SortFunc(report.RejectedOrders, func(a, b Rejection) int {
		return cmp.Compare(a.ID, b.ID)
	})

	for _, o := range sorted {
		report.Results = append(report.Results, r.matchOrder(o))
	}
	return report
}

// Reconcile is a convenience wrapper that builds a Reconciler and runs it once.
func Reconcile(orders map[string]model.MarketplaceOrder, records []model.SourceRecord, opts Options) *Report {
	return New(records, opts).Reconcile(orders)
}

func (r *Reconciler) target(o model.MarketplaceOrder) int64 {
	if r.opts.PurchasesNegative {
		return -o.TotalCents
	}
	return o.TotalCents
}

func (r *Reconciler) matchOrder(o model.MarketplaceOrder) model.MatchResult {
	target := r.target(o)
	candidates := r.index.Candidates(target)
	if len(candidates) == 0 {
		res := model.MatchResult{OrderID: o.OrderID, Reason: model.ReasonNoAmountMatch}
		r.reportNearMiss(o, target, res.Reason)
		return res
	}

	best := -1
	bestLag := 0
	var sawEarly, sawLate, sawClaimed bool
	for i, c := range candidates {
		lag := LagDays(o.Date, c.Date)
		switch {
		case lag < 0:
			sawEarly = true
			continue
		case lag > r.opts.MaxLagDays:
			sawLate = true
			continue
		}
		if _, taken := r.claimed[c.Key()]; taken {
			sawClaimed = true
			continue
		}
		// Strict comparison keeps the first candidate on equal lag.
		if best < 0 || lag < bestLag {
			best, bestLag = i, lag
		}
	}

	if best >= 0 {
		key := candidates[best].Key()
		r.claimed[key] = o.OrderID
		return model.MatchResult{OrderID: o.OrderID, Record: key, LagDays: bestLag, Reason: model.ReasonMatched}
	}

	res := model.MatchResult{OrderID: o.OrderID}
	switch {
	case sawClaimed:
		res.Reason = model.ReasonAlreadyClaimed
	case sawLate:
		res.Reason = model.ReasonDateTooLate
	case sawEarly:
		res.Reason = model.ReasonDateTooEarly
	}
	r.reportNearMiss(o, target, res.Reason)
	return res
}

// LagDays returns the number of calendar days from the order date to the
// posting date. Negative means the record posted before the order.
func LagDays(orderDate, postedDate time.Time) int {
	return int(model.Day(postedDate).Sub(model.Day(orderDate)).Hours() / 24)
}

func validateOrder(o model.MarketplaceOrder) string {
	switch {
	case o.OrderID == "":
		return "missing order id"
	case o.Date.IsZero():
		return "missing order date"
	case o.TotalCents <= 0:
		return "non-positive total"
	case o.TaxCents < 0 || o.ShippingCents < 0:
		return "negative tax or shipping"
	case o.TaxCents+o.ShippingCents > o.TotalCents:
		return "tax and shipping exceed total"
	}
	return ""
}

func validateRecord(rec model.SourceRecord) string {
	switch {
	case rec.ExternalID == "":
		return "missing external id"
	case rec.Date.IsZero():
		return "missing posting date"
	}
	return ""
}
