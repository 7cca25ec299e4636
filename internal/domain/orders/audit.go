package orders

import "time"

// StatusLog is one row of the append-only transition history. ChangedBy is an
// operator name snapshot, never a live reference into the role registry.
type StatusLog struct {
	ID        int64
	OrderID   int64
	ItemID    *int64 // nil for aggregate-level transitions
	From      string
	To        string
	ChangedBy *string
	ChangedAt time.Time
	Notes     *string
}
