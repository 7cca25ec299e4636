package orders

// OrderStatus is the lifecycle status of the order aggregate.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusServing   OrderStatus = "serving"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// ItemStatus is the lifecycle status of a single order line.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemPreparing ItemStatus = "preparing"
	ItemReady     ItemStatus = "ready"
	ItemServed    ItemStatus = "served"
	ItemCancelled ItemStatus = "cancelled"
)

// PaymentStatus tracks whether the order has been settled.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Allowed transitions for the order aggregate. Cancellation is reachable
// from every non-terminal status; completed and cancelled are terminal.
var orderAllowed = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:   {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing: {StatusReady: true, StatusCancelled: true},
	StatusReady:     {StatusServing: true, StatusCancelled: true},
	StatusServing:   {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

// Allowed transitions for a line item. A served item can no longer be
// cancelled; cancellation is only reachable while the kitchen still holds it.
var itemAllowed = map[ItemStatus]map[ItemStatus]bool{
	ItemPending:   {ItemPreparing: true, ItemCancelled: true},
	ItemPreparing: {ItemReady: true, ItemCancelled: true},
	ItemReady:     {ItemServed: true},
	ItemServed:    {},
	ItemCancelled: {},
}

// forward is the happy-path successor of each order status, used when the
// aggregate auto-advances after all items reach a terminal state.
var forward = map[OrderStatus]OrderStatus{
	StatusPending:   StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusServing,
	StatusServing:   StatusCompleted,
}

// CanTransition reports whether from->to is a legal order transition.
func CanTransition(from, to OrderStatus) bool {
	nexts := orderAllowed[from]
	return nexts != nil && nexts[to]
}

// CanItemTransition reports whether from->to is a legal item transition.
func CanItemTransition(from, to ItemStatus) bool {
	nexts := itemAllowed[from]
	return nexts != nil && nexts[to]
}

// NextForward returns the forward successor of an order status,
// or "" when the status has no forward edge.
func NextForward(from OrderStatus) OrderStatus {
	return forward[from]
}

// IsTerminal reports whether the order status has no outgoing edges.
func (s OrderStatus) IsTerminal() bool {
	return len(orderAllowed[s]) == 0
}

// IsTerminal reports whether the item status has no outgoing edges.
func (s ItemStatus) IsTerminal() bool {
	return len(itemAllowed[s]) == 0
}

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	_, ok := orderAllowed[s]
	return ok
}

// Valid reports whether s is one of the known item statuses.
func (s ItemStatus) Valid() bool {
	_, ok := itemAllowed[s]
	return ok
}

// OrderStatuses lists every order status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{StatusPending, StatusPreparing, StatusReady, StatusServing, StatusCompleted, StatusCancelled}
}
