package reconcile

import (
	"github.com/cleared-dev/splitledger/internal/model"
)

// NearMiss describes records that almost matched an unmatched order.
type NearMiss struct {
	OrderID    string
	Reason     model.MatchReason
	Candidates []NearCandidate
}

// NearCandidate is one record that came close to matching.
type NearCandidate struct {
	Record      model.SourceKey
	AmountCents int64
	LagDays     int
	ClaimedBy   string // order that already holds the record, if any
}

// reportNearMiss collects same-amount records outside the window and
// close-amount records inside it. It only reads matcher state.
func (r *Reconciler) reportNearMiss(o model.MarketplaceOrder, target int64, reason model.MatchReason) {
	if r.opts.NearMiss == nil {
		return
	}

	nm := NearMiss{OrderID: o.OrderID, Reason: reason}
	for _, c := range r.index.Candidates(target) {
		nm.Candidates = append(nm.Candidates, NearCandidate{
			Record:      c.Key(),
			AmountCents: c.AmountCents,
			LagDays:     LagDays(o.Date, c.Date),
			ClaimedBy:   r.claimed[c.Key()],
		})
	}
	for _, c := range r.index.Near(target, r.opts.NearMissToleranceCents) {
		lag := LagDays(o.Date, c.Date)
		if lag < 0 || lag > r.opts.MaxLagDays {
			continue
		}
		nm.Candidates = append(nm.Candidates, NearCandidate{
			Record:      c.Key(),
			AmountCents: c.AmountCents,
			LagDays:     lag,
			ClaimedBy:   r.claimed[c.Key()],
		})
	}
	r.opts.NearMiss(nm)
}
