package split

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Allocate apportions total across weights so that the parts sum to total
// exactly.
//
// Shares are proportional to weights using the largest-remainder method: each
// share is floored, then the leftover units go one each to the parts with the
// largest fractional remainder, ties to the lower index. When every weight is
// zero the total is split evenly and the remainder goes to the last part.
//
// Negative totals are apportioned by magnitude and negated, so the result
// mirrors the positive case. Weights must be non-negative; len(weights) must
// be at least one.
func Allocate(total int64, weights []int64) []int64 {
	n := len(weights)
	if n == 0 {
		return nil
	}

	magnitude := total
	if magnitude < 0 {
		magnitude = -magnitude
	}

	var parts []int64
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(decimal.NewFromInt(w))
	}
	if sum.IsZero() {
		parts = even(magnitude, n)
	} else {
		parts = largestRemainder(magnitude, weights, sum)
	}

	if total < 0 {
		for i := range parts {
			parts[i] = -parts[i]
		}
	}
	return parts
}

func even(total int64, n int) []int64 {
	parts := make([]int64, n)
	base := total / int64(n)
	for i := range parts {
		parts[i] = base
	}
	parts[n-1] += total % int64(n)
	return parts
}

// largestRemainder computes floor(total*w/sum) exactly in decimal arithmetic;
// remainders share the denominator sum, so comparing them compares the
// fractional parts without rounding.
func largestRemainder(total int64, weights []int64, sum decimal.Decimal) []int64 {
	n := len(weights)
	parts := make([]int64, n)
	rems := make([]decimal.Decimal, n)
	t := decimal.NewFromInt(total)

	var allocated int64
	for i, w := range weights {
		q, r := t.Mul(decimal.NewFromInt(w)).QuoRem(sum, 0)
		parts[i] = q.IntPart()
		rems[i] = r
		allocated += parts[i]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return rems[b].Cmp(rems[a])
	})

	leftover := total - allocated
	for k := int64(0); k < leftover; k++ {
		parts[order[k]]++
	}
	return parts
}
