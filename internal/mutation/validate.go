package mutation

import (
	"fmt"
	"strings"

	"github.com/cleared-dev/splitledger/internal/model"
)

// ValidationError describes a single payload invariant violation.
type ValidationError struct {
	Invariant   int
	ExternalID  string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invariant %d [%s]: %s", e.Invariant, e.ExternalID, e.Description)
}

// ContractError reports a plugin whose handled output broke payload
// invariants.
type ContractError struct {
	Violations []ValidationError
}

func (e *ContractError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return "contract violation: " + strings.Join(msgs, "; ")
}

// ValidatePayloads enforces 5 invariants on the payload set derived from rec.
func ValidatePayloads(rec model.SourceRecord, payloads []model.DerivedPayload) []ValidationError {
	var errs []ValidationError

	// Invariant 2: A handled record yields at least one payload.
	if len(payloads) == 0 {
		return append(errs, ValidationError{
			Invariant:   2,
			ExternalID:  rec.ExternalID,
			Description: "no payloads",
		})
	}

	// Invariant 1: Amounts sum exactly to the source amount.
	if sum := model.SumCents(payloads); sum != rec.AmountCents {
		errs = append(errs, ValidationError{
			Invariant:   1,
			ExternalID:  rec.ExternalID,
			Description: fmt.Sprintf("payloads sum to %d, source is %d", sum, rec.AmountCents),
		})
	}

	seen := make(map[string]bool, len(payloads))
	for i, p := range payloads {
		// Invariant 3: Unique, non-empty external IDs.
		switch {
		case p.ExternalID == "":
			errs = append(errs, ValidationError{
				Invariant:   3,
				ExternalID:  fmt.Sprintf("%s[%d]", rec.ExternalID, i),
				Description: "missing external id",
			})
		case seen[p.ExternalID]:
			errs = append(errs, ValidationError{
				Invariant:   3,
				ExternalID:  p.ExternalID,
				Description: "duplicate external id",
			})
		}
		seen[p.ExternalID] = true

		// Invariant 4: Split indexes run 0..n-1 in payload order.
		if p.SplitIndex != i {
			errs = append(errs, ValidationError{
				Invariant:   4,
				ExternalID:  p.ExternalID,
				Description: fmt.Sprintf("split index %d at position %d", p.SplitIndex, i),
			})
		}

		// Invariant 5: Verified payloads carry a category.
		if p.IsVerified && p.Enrichment.CategoryID == "" {
			errs = append(errs, ValidationError{
				Invariant:   5,
				ExternalID:  p.ExternalID,
				Description: "verified without category",
			})
		}
	}

	return errs
}
