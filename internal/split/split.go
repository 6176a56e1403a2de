// Package split turns one matched marketplace order into per-item derived
// payloads whose amounts sum exactly to the paying source record.
package split

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/cleared-dev/splitledger/internal/id"
	"github.com/cleared-dev/splitledger/internal/model"
)

// MaxDescriptionRunes bounds the item part of a split description.
const MaxDescriptionRunes = 50

// Split returns one payload per line item. Amounts are allocated from the
// source record's amount in proportion to item subtotals, so tax and shipping
// are spread the same way. With no items the record is mirrored 1:1.
//
// label prefixes each item description ("Amazon: ...").
func Split(rec model.SourceRecord, order model.MarketplaceOrder, items []model.OrderLineItem, label string) []model.DerivedPayload {
	if len(items) == 0 {
		return []model.DerivedPayload{rec.Mirror()}
	}

	weights := make([]int64, len(items))
	for i, item := range items {
		weights[i] = item.SubtotalCents()
	}
	amounts := Allocate(rec.AmountCents, weights)

	payloads := make([]model.DerivedPayload, len(items))
	for i, item := range items {
		payloads[i] = model.DerivedPayload{
			ExternalID:  id.FormatSplitID(rec.ExternalID, i),
			SplitIndex:  i,
			AmountCents: amounts[i],
			Date:        rec.Date,
			Merchant:    Describe(label, item.Description),
			OrderID:     order.OrderID,
			ProductID:   item.ProductID,
		}
	}
	return payloads
}

// Describe builds "<label>: <description>" with the description normalised
// and cut to MaxDescriptionRunes.
func Describe(label, description string) string {
	d := strings.TrimSpace(norm.NFC.String(description))
	if r := []rune(d); len(r) > MaxDescriptionRunes {
		d = strings.TrimSpace(string(r[:MaxDescriptionRunes]))
	}
	if label == "" {
		return d
	}
	return label + ": " + d
}

// ValidateItems rejects line items that cannot be apportioned.
func ValidateItems(items []model.OrderLineItem) error {
	for i, item := range items {
		if item.Quantity < 0 {
			return fmt.Errorf("item %d (%s): negative quantity %d", i, item.ProductID, item.Quantity)
		}
		if item.UnitPriceCents < 0 {
			return fmt.Errorf("item %d (%s): negative unit price %d", i, item.ProductID, item.UnitPriceCents)
		}
	}
	return nil
}
