package catalog

import (
	"tableside/internal/domain/orders"
)

// Store carries the per-store policy knobs the order flow consults.
// AutoMarkPaid controls whether completing an unpaid order settles it
// implicitly (cashier-less stores) or leaves payment to a separate step.
type Store struct {
	ID           int64
	Name         string
	AutoMarkPaid bool
}

// DiningTable is a physical table a QR code points at.
type DiningTable struct {
	ID       int64
	StoreID  int64
	Number   int
	Occupied bool
}

// MenuItem is the sellable unit. Stock is the critical shared resource:
// adjustments go through conditional SQL updates, never read-then-write.
type MenuItem struct {
	ID        int64
	StoreID   int64
	Name      string
	Price     orders.Money
	Stock     int
	Available bool
}
