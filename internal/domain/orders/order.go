package orders

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// OrderItem is a single line of an order. Name and Price are snapshots taken
// from the menu at order time so later catalog edits never alter history.
type OrderItem struct {
	ID           int64 // DB PK
	OrderID      int64
	MenuItemID   int64
	Name         string // snapshot
	Price        Money  // snapshot, per-unit in cents
	Quantity     int
	Subtotal     Money // Price * Quantity, fixed at creation
	Status       ItemStatus
	Instructions string
}

// Order is the aggregate root. Items belong exclusively to it; totals are
// derived from the non-cancelled item set.
type Order struct {
	ID             int64
	Number         string // business identity: ORD_<timestamp>_<random hex>
	StoreID        int64
	TableID        *int64 // nil once the table has been freed
	Items          []OrderItem
	TotalAmount    Money
	DiscountAmount Money
	FinalAmount    Money // TotalAmount - DiscountAmount, never negative
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	PaymentMethod  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// RecalcAmounts recomputes total and final from the non-cancelled items.
// Cancelled lines stay on the order for audit but drop out of the sum.
func (order *Order) RecalcAmounts() {
	var sum Money
	for _, it := range order.Items {
		if it.Status == ItemCancelled {
			continue
		}
		sum += it.Subtotal
	}
	order.TotalAmount = sum
	order.FinalAmount = sum - order.DiscountAmount
	if order.FinalAmount < 0 {
		order.FinalAmount = 0
	}
}

// AllItemsTerminal reports whether every line has reached served or cancelled.
func (order *Order) AllItemsTerminal() bool {
	for _, it := range order.Items {
		if !it.Status.IsTerminal() {
			return false
		}
	}
	return len(order.Items) > 0
}

// HasServedItem reports whether at least one line was actually served.
func (order *Order) HasServedItem() bool {
	for _, it := range order.Items {
		if it.Status == ItemServed {
			return true
		}
	}
	return false
}

// NewOrderNumber builds the business identity: ORD_<UTC second stamp>_<12 hex
// chars from crypto/rand>. 48 bits of suffix keep the collision probability
// negligible even for bursts of tens of thousands of orders per second.
func NewOrderNumber(now time.Time) string {
	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		// crypto/rand failing means the platform is broken; fall back to the
		// nanosecond clock rather than returning an error nobody can handle.
		ns := now.UnixNano()
		for i := range suffix {
			suffix[i] = byte(ns >> (8 * i))
		}
	}
	return fmt.Sprintf("ORD_%s_%s", now.UTC().Format("20060102150405"), hex.EncodeToString(suffix[:]))
}
