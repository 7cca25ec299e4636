package orders

import "fmt"

// NotFoundError reports an unresolved table, menu item, order, or item id.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// InsufficientStockError reports a line whose requested quantity exceeds the
// menu item's remaining stock. Creation aborts as a whole; the error names
// the offending line so the caller can surface it.
type InsufficientStockError struct {
	MenuItemID int64
	Name       string
	Requested  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for menu item %d (%s): requested %d", e.MenuItemID, e.Name, e.Requested)
}

// InvalidTransitionError names both endpoints of an illegal status edge.
type InvalidTransitionError struct {
	Entity string // "order" or "order item"
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// InconsistentAggregateError guards the completed edge: reaching it while
// non-terminal items remain is a programmer error made visible.
type InconsistentAggregateError struct {
	OrderNumber string
	Reason      string
}

func (e *InconsistentAggregateError) Error() string {
	return fmt.Sprintf("inconsistent aggregate %s: %s", e.OrderNumber, e.Reason)
}
