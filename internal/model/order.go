package model

import (
	"time"
)

// MarketplaceOrder is an order exported from a marketplace account.
// Tax and shipping are included in TotalCents.
type MarketplaceOrder struct {
	OrderID       string
	Date          time.Time
	TotalCents    int64
	TaxCents      int64
	ShippingCents int64
}

// OrderLineItem is one product line within a MarketplaceOrder.
type OrderLineItem struct {
	OrderID        string
	UnitPriceCents int64
	Quantity       int
	Description    string
	ProductID      string
}

// SubtotalCents returns unit price times quantity.
func (i OrderLineItem) SubtotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

// OrderBook holds the orders and line items loaded for one batch, keyed by
// order ID.
type OrderBook struct {
	Orders map[string]MarketplaceOrder
	Items  map[string][]OrderLineItem
}

// NewOrderBook returns an empty OrderBook.
func NewOrderBook() *OrderBook {
	return &OrderBook{
		Orders: make(map[string]MarketplaceOrder),
		Items:  make(map[string][]OrderLineItem),
	}
}

// Merge adds other's orders and items. Orders already present are replaced;
// items are appended.
func (b *OrderBook) Merge(other *OrderBook) {
	for k, o := range other.Orders {
		b.Orders[k] = o
	}
	for k, items := range other.Items {
		b.Items[k] = append(b.Items[k], items...)
	}
}
