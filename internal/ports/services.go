package ports

import (
	"context"
	"time"

	"tableside/internal/domain/orders"
	"tableside/internal/domain/workflow"
	"tableside/internal/shared/contracts"
)

// EventPublisher delivers order events to the fan-out collaborator. It is
// called strictly after the transactional write commits; a lost publish is
// a missed live update, not a correctness violation.
type EventPublisher interface {
	Publish(ctx context.Context, event contracts.OrderEvent) error
}

// OrderService drives the order state machine: creation, aggregate and
// per-item transitions, and the read path.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (OrderView, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (OrderView, error)
	UpdateItemStatus(ctx context.Context, itemID int64, next orders.ItemStatus) (ItemView, error)
	GetOrder(ctx context.Context, number string) (OrderView, error)
	GetOrderHistory(ctx context.Context, number string) ([]orders.StatusLog, error)
}

type PlaceOrderCommand struct {
	StoreID int64
	TableID int64
	Lines   []OrderLineInput
}

type OrderLineInput struct {
	MenuItemID   int64
	Quantity     int
	Instructions string
}

type UpdateOrderStatusCommand struct {
	OrderNumber string
	Next        orders.OrderStatus
	ChangedBy   *string
	Notes       *string
}

type OrderView struct {
	OrderNumber    string
	StoreID        int64
	TableID        *int64
	Status         orders.OrderStatus
	PaymentStatus  orders.PaymentStatus
	TotalAmount    orders.Money
	DiscountAmount orders.Money
	FinalAmount    orders.Money
	Items          []ItemView
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

type ItemView struct {
	ItemID       int64
	OrderNumber  string
	Name         string
	Price        orders.Money
	Quantity     int
	Subtotal     orders.Money
	Status       orders.ItemStatus
	Instructions string
}

// WorkflowService covers the role registry, the flow configuration store,
// and the read-only resolver.
type WorkflowService interface {
	ListRoles(ctx context.Context, storeID int64) ([]workflow.Role, error)
	UpsertRole(ctx context.Context, role workflow.Role) (workflow.Role, error)
	DeleteRole(ctx context.Context, roleID int64) error

	ListFlowConfig(ctx context.Context, storeID int64) ([]workflow.FlowConfigEntry, error)
	ListFlowConfigGrouped(ctx context.Context, storeID int64) (map[string][]workflow.FlowConfigEntry, error)
	UpsertFlowConfig(ctx context.Context, entry workflow.FlowConfigEntry) (workflow.FlowConfigEntry, error)
	BulkUpdateFlowConfig(ctx context.Context, entries []workflow.FlowConfigEntry) error
	ResetToDefault(ctx context.Context, storeID int64) error

	ResolveAction(ctx context.Context, storeID int64, role string, status orders.OrderStatus) (workflow.ResolvedAction, error)
	StatusesForRole(ctx context.Context, storeID int64, role string) ([]workflow.FlowConfigEntry, error)
}
