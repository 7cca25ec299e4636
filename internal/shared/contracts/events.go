package contracts

import (
	"strconv"
	"time"
)

// Event types published to the orders.events exchange.
const (
	EventNewOrder    = "new_order"
	EventOrderUpdate = "order_update"
	EventItemUpdate  = "item_update"
)

// OrderEventItem is the wire format for a single line inside an event payload.
type OrderEventItem struct {
	ItemID       int64   `json:"item_id"`
	Name         string  `json:"name"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"` // unit price in major units
	Status       string  `json:"status"`
	Instructions string  `json:"instructions,omitempty"`
}

// OrderEventPayload carries the order snapshot attached to every event.
type OrderEventPayload struct {
	Status        string           `json:"status"`
	OldStatus     string           `json:"old_status,omitempty"`
	PaymentStatus string           `json:"payment_status,omitempty"`
	TotalAmount   float64          `json:"total_amount"`
	FinalAmount   float64          `json:"final_amount"`
	ChangedBy     string           `json:"changed_by,omitempty"`
	Items         []OrderEventItem `json:"items,omitempty"`
}

// OrderEvent is published after a successful DB commit, never before.
// Subscribers group by store (routing key) or by table (payload filter).
type OrderEvent struct {
	EventID     string            `json:"event_id"`
	Type        string            `json:"type"` // new_order | order_update | item_update
	StoreID     int64             `json:"store_id"`
	TableID     *int64            `json:"table_id,omitempty"`
	OrderID     int64             `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Payload     OrderEventPayload `json:"payload"`
	Timestamp   time.Time         `json:"timestamp"`
}

// RoutingKey builds "store.{store_id}.{type}" for the topic exchange.
func (e OrderEvent) RoutingKey() string {
	return "store." + strconv.FormatInt(e.StoreID, 10) + "." + e.Type
}
