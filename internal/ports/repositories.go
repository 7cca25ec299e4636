package ports

import (
	"context"
	"time"

	"tableside/internal/domain/catalog"
	"tableside/internal/domain/orders"
	"tableside/internal/domain/workflow"
)

// UnitOfWork wraps a function in a DB transaction. Repositories recover the
// transaction from the context; no operation reaches into ambient globals.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository coordinates orders, items, and the status log. CreateOrder
// MUST also insert the initial 'pending' log row.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *orders.Order) error
	GetByNumber(ctx context.Context, number string) (*orders.Order, error)
	GetByID(ctx context.Context, id int64) (*orders.Order, error)
	GetItem(ctx context.Context, itemID int64) (*orders.OrderItem, error)

	// The ForUpdate variants lock the order row until the transaction ends.
	// Every transition path MUST read through them: the lock serializes
	// aggregate-level and item-level updates on the same order, so stock is
	// never credited twice and sibling transitions see each other's terminal
	// states. The CAS updates below then only catch lost updates.
	GetByNumberForUpdate(ctx context.Context, number string) (*orders.Order, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*orders.Order, error)

	// UpdateStatusCAS applies next only when the row still holds expected.
	// Returns false when a concurrent transition won.
	UpdateStatusCAS(ctx context.Context, orderID int64, expected, next orders.OrderStatus) (applied bool, err error)
	UpdateItemStatusCAS(ctx context.Context, itemID int64, expected, next orders.ItemStatus) (applied bool, err error)

	SetAmounts(ctx context.Context, orderID int64, total, discount, final orders.Money) error
	SetPaymentStatus(ctx context.Context, orderID int64, status orders.PaymentStatus) error
	SetCompletedAt(ctx context.Context, orderID int64, t time.Time) error
	ClearTable(ctx context.Context, orderID int64) error

	AppendStatusLog(ctx context.Context, log *orders.StatusLog) error
	ListHistory(ctx context.Context, orderID int64) ([]orders.StatusLog, error)
}

// CatalogRepository is the minimal surface the order flow needs from the
// menu/table collaborators: lookups, occupancy, and atomic stock moves.
type CatalogRepository interface {
	GetStore(ctx context.Context, id int64) (*catalog.Store, error)
	GetTable(ctx context.Context, id int64) (*catalog.DiningTable, error)
	GetMenuItem(ctx context.Context, id int64) (*catalog.MenuItem, error)

	// DecrementStock runs the conditional decrement (stock >= qty) and
	// reports whether a row was affected. False means insufficient stock.
	DecrementStock(ctx context.Context, menuItemID, storeID int64, qty int) (bool, error)
	RestoreStock(ctx context.Context, menuItemID int64, qty int) error

	SetTableOccupied(ctx context.Context, tableID int64, occupied bool) error
}

// WorkflowRepository persists the role registry and flow configuration.
type WorkflowRepository interface {
	ListRoles(ctx context.Context, storeID int64) ([]workflow.Role, error)
	GetRole(ctx context.Context, roleID int64) (*workflow.Role, error)
	UpsertRole(ctx context.Context, role *workflow.Role) error
	DeleteRole(ctx context.Context, roleID int64) error

	ListFlowConfig(ctx context.Context, storeID int64) ([]workflow.FlowConfigEntry, error)
	// FindFlowConfig returns (nil, nil) when no mapping exists; a missing
	// mapping is a resolver default, not an error.
	FindFlowConfig(ctx context.Context, storeID int64, role string, status orders.OrderStatus) (*workflow.FlowConfigEntry, error)
	UpsertFlowConfig(ctx context.Context, entry *workflow.FlowConfigEntry) error

	// DeleteWorkflow removes the store's roles and flow entries together,
	// used only by reset-to-default inside one transaction.
	DeleteWorkflow(ctx context.Context, storeID int64) error
	InsertRoles(ctx context.Context, roles []workflow.Role) error
	InsertFlowConfig(ctx context.Context, entries []workflow.FlowConfigEntry) error
}
