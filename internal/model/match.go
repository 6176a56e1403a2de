package model

// MatchReason explains the outcome of reconciling one marketplace order.
type MatchReason string

const (
	ReasonMatched        MatchReason = "matched"
	ReasonNoAmountMatch  MatchReason = "no-amount-match"
	ReasonDateTooEarly   MatchReason = "date-too-early"
	ReasonDateTooLate    MatchReason = "date-too-late"
	ReasonAlreadyClaimed MatchReason = "already-claimed"
)

// MatchResult pairs an order with at most one source record. When no record
// matched, Record is the zero key and Reason says why.
type MatchResult struct {
	OrderID string
	Record  SourceKey
	LagDays int
	Reason  MatchReason
}

// Matched reports whether the order was paired with a source record.
func (m MatchResult) Matched() bool {
	return m.Reason == ReasonMatched
}
