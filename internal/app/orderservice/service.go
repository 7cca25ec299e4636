package orderservice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tableside/internal/domain/orders"
	"tableside/internal/ports"
	"tableside/internal/shared/contracts"
	"tableside/internal/shared/logger"
)

// Service implements ports.OrderService: order creation, the aggregate and
// per-item state machines, and the read path. Every mutation runs inside one
// unit of work; events are published only after the commit.
type Service struct {
	uow     ports.UnitOfWork
	orders  ports.OrderRepository
	catalog ports.CatalogRepository
	pub     ports.EventPublisher
	logger  *logger.Logger
}

var _ ports.OrderService = (*Service)(nil)

func New(uow ports.UnitOfWork, orderRepo ports.OrderRepository, catalogRepo ports.CatalogRepository, pub ports.EventPublisher, log *logger.Logger) *Service {
	return &Service{uow: uow, orders: orderRepo, catalog: catalogRepo, pub: pub, logger: log}
}

// operator name used for derived (auto-advance) and system transitions.
const systemOperator = "system"

// PlaceOrder validates the table and every line against the store's catalog,
// decrements stock atomically, and creates the order in 'pending'. Any
// failure aborts the whole creation; there is no partial order.
func (service *Service) PlaceOrder(ctx context.Context, cmd ports.PlaceOrderCommand) (ports.OrderView, error) {
	if cmd.StoreID <= 0 {
		return ports.OrderView{}, errors.New("store_id is required")
	}
	if cmd.TableID <= 0 {
		return ports.OrderView{}, errors.New("table_id is required")
	}
	if len(cmd.Lines) < 1 || len(cmd.Lines) > 50 {
		return ports.OrderView{}, errors.New("order must contain between 1 and 50 lines")
	}
	for i, line := range cmd.Lines {
		if line.MenuItemID <= 0 {
			return ports.OrderView{}, fmt.Errorf("line %d: menu_item_id is required", i+1)
		}
		if line.Quantity < 1 {
			return ports.OrderView{}, fmt.Errorf("line %d: quantity must be positive", i+1)
		}
	}

	var (
		view  ports.OrderView
		event contracts.OrderEvent
	)
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := service.catalog.GetStore(txCtx, cmd.StoreID); err != nil {
			return err
		}

		table, err := service.catalog.GetTable(txCtx, cmd.TableID)
		if err != nil {
			return err
		}
		if table.StoreID != cmd.StoreID {
			return &orders.NotFoundError{Entity: "table", Key: fmt.Sprintf("%d (store %d)", cmd.TableID, cmd.StoreID)}
		}

		order := orders.Order{
			Number:        orders.NewOrderNumber(time.Now()),
			StoreID:       cmd.StoreID,
			TableID:       &cmd.TableID,
			PaymentStatus: orders.PaymentUnpaid,
		}

		for _, line := range cmd.Lines {
			menuItem, err := service.catalog.GetMenuItem(txCtx, line.MenuItemID)
			if err != nil {
				return err
			}
			if menuItem.StoreID != cmd.StoreID {
				return &orders.NotFoundError{Entity: "menu item", Key: fmt.Sprintf("%d (store %d)", line.MenuItemID, cmd.StoreID)}
			}
			if !menuItem.Available {
				return &orders.InsufficientStockError{MenuItemID: menuItem.ID, Name: menuItem.Name, Requested: line.Quantity}
			}

			// The check and the decrement are one conditional UPDATE;
			// concurrent orders for the same item cannot oversell.
			applied, err := service.catalog.DecrementStock(txCtx, menuItem.ID, cmd.StoreID, line.Quantity)
			if err != nil {
				return err
			}
			if !applied {
				return &orders.InsufficientStockError{MenuItemID: menuItem.ID, Name: menuItem.Name, Requested: line.Quantity}
			}

			order.Items = append(order.Items, orders.OrderItem{
				MenuItemID:   menuItem.ID,
				Name:         menuItem.Name, // snapshot
				Price:        menuItem.Price,
				Quantity:     line.Quantity,
				Subtotal:     menuItem.Price * orders.Money(line.Quantity),
				Status:       orders.ItemPending,
				Instructions: line.Instructions,
			})
		}

		order.RecalcAmounts()

		if err := service.orders.CreateOrder(txCtx, &order); err != nil {
			service.logger.Error(ctx, "db_transaction_failed", "failed to create order", err)
			return err
		}

		if err := service.catalog.SetTableOccupied(txCtx, cmd.TableID, true); err != nil {
			return err
		}

		view = toOrderView(&order)
		event = newEvent(contracts.EventNewOrder, &order, contracts.OrderEventPayload{
			Status:        string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
			TotalAmount:   order.TotalAmount.ToFloat2(),
			FinalAmount:   order.FinalAmount.ToFloat2(),
			Items:         eventItems(order.Items),
		})
		return nil
	})
	if err != nil {
		return ports.OrderView{}, err
	}

	service.publish(ctx, event)
	return view, nil
}

// UpdateOrderStatus validates and applies one aggregate transition,
// including its side effects and status-log entry.
func (service *Service) UpdateOrderStatus(ctx context.Context, cmd ports.UpdateOrderStatusCommand) (ports.OrderView, error) {
	if !cmd.Next.Valid() {
		return ports.OrderView{}, &orders.InvalidTransitionError{Entity: "order", From: "?", To: string(cmd.Next)}
	}

	var (
		view   ports.OrderView
		events []contracts.OrderEvent
	)
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := service.orders.GetByNumberForUpdate(txCtx, cmd.OrderNumber)
		if err != nil {
			return err
		}

		changedBy := systemOperator
		if cmd.ChangedBy != nil {
			changedBy = *cmd.ChangedBy
		}

		event, err := service.applyOrderTransition(txCtx, order, cmd.Next, changedBy, cmd.Notes)
		if err != nil {
			return err
		}
		events = append(events, event)
		view = toOrderView(order)
		return nil
	})
	if err != nil {
		return ports.OrderView{}, err
	}

	service.publishAll(ctx, events)
	return view, nil
}

// UpdateItemStatus applies one line transition. Cancelling a line restores
// its stock and recomputes the parent totals; any transition that leaves all
// siblings terminal auto-advances the aggregate through the same order
// transition contract.
func (service *Service) UpdateItemStatus(ctx context.Context, itemID int64, next orders.ItemStatus) (ports.ItemView, error) {
	if !next.Valid() {
		return ports.ItemView{}, &orders.InvalidTransitionError{Entity: "order item", From: "?", To: string(next)}
	}

	var (
		view   ports.ItemView
		events []contracts.OrderEvent
	)
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		line, err := service.orders.GetItem(txCtx, itemID)
		if err != nil {
			return err
		}

		// Lock the aggregate before judging the transition: a concurrent
		// order-level cancellation or sibling update on the same order waits
		// here, so the terminal guard and the stock credit below always see
		// committed state.
		order, err := service.orders.GetByIDForUpdate(txCtx, line.OrderID)
		if err != nil {
			return err
		}

		// Item transitions stop once the aggregate is terminal; this also
		// guards stock restoration against double credits after an order
		// level cancellation.
		if order.Status.IsTerminal() {
			return &orders.InvalidTransitionError{Entity: "order item", From: string(line.Status), To: string(next)}
		}

		// re-resolve the line from the locked aggregate; the pre-lock read
		// only located the parent order
		var item *orders.OrderItem
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				item = &order.Items[i]
				break
			}
		}
		if item == nil {
			return &orders.NotFoundError{Entity: "order item", Key: strconv.FormatInt(itemID, 10)}
		}

		from := item.Status
		if !orders.CanItemTransition(from, next) {
			return &orders.InvalidTransitionError{Entity: "order item", From: string(from), To: string(next)}
		}

		applied, err := service.orders.UpdateItemStatusCAS(txCtx, item.ID, from, next)
		if err != nil {
			return err
		}
		if !applied {
			// a concurrent transition moved the item first
			return &orders.InvalidTransitionError{Entity: "order item", From: string(from), To: string(next)}
		}
		item.Status = next

		now := time.Now().UTC()
		if err := service.orders.AppendStatusLog(txCtx, &orders.StatusLog{
			OrderID:   order.ID,
			ItemID:    &item.ID,
			From:      string(from),
			To:        string(next),
			ChangedAt: now,
		}); err != nil {
			return err
		}

		if next == orders.ItemCancelled {
			// Credit the line's stock back; order-level cancellation later
			// skips already-cancelled lines, so this never double-credits.
			if err := service.catalog.RestoreStock(txCtx, item.MenuItemID, item.Quantity); err != nil {
				return err
			}

			order.RecalcAmounts()
			if err := service.orders.SetAmounts(txCtx, order.ID, order.TotalAmount, order.DiscountAmount, order.FinalAmount); err != nil {
				return err
			}
		}

		events = append(events, newEvent(contracts.EventItemUpdate, order, contracts.OrderEventPayload{
			Status:      string(order.Status),
			TotalAmount: order.TotalAmount.ToFloat2(),
			FinalAmount: order.FinalAmount.ToFloat2(),
			Items: []contracts.OrderEventItem{{
				ItemID:   item.ID,
				Name:     item.Name,
				Quantity: item.Quantity,
				Price:    item.Price.ToFloat2(),
				Status:   string(item.Status),
			}},
		}))

		// Derived transition: once every sibling is terminal the aggregate
		// finishes on its own, re-entering the order transition contract so
		// logs and side effects stay in one place.
		if next.IsTerminal() && order.AllItemsTerminal() && !order.Status.IsTerminal() {
			target := orders.StatusCancelled
			if order.HasServedItem() {
				target = orders.StatusCompleted
			}
			autoEvents, err := service.autoAdvance(txCtx, order, target)
			if err != nil {
				return err
			}
			events = append(events, autoEvents...)
		}

		view = toItemView(item, order.Number)
		return nil
	})
	if err != nil {
		return ports.ItemView{}, err
	}

	service.publishAll(ctx, events)
	return view, nil
}

// GetOrder returns the order with its items.
func (service *Service) GetOrder(ctx context.Context, number string) (ports.OrderView, error) {
	var view ports.OrderView
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := service.orders.GetByNumber(txCtx, number)
		if err != nil {
			return err
		}
		view = toOrderView(order)
		return nil
	})
	return view, err
}

// GetOrderHistory returns the append-only transition log.
func (service *Service) GetOrderHistory(ctx context.Context, number string) ([]orders.StatusLog, error) {
	var history []orders.StatusLog
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := service.orders.GetByNumber(txCtx, number)
		if err != nil {
			return err
		}
		history, err = service.orders.ListHistory(txCtx, order.ID)
		return err
	})
	return history, err
}

// autoAdvance walks the forward edges from the order's current status to
// target, applying each hop through applyOrderTransition. Cancellation is a
// single hop; completion may pass through intermediate stages when the
// aggregate lagged behind its items.
func (service *Service) autoAdvance(txCtx context.Context, order *orders.Order, target orders.OrderStatus) ([]contracts.OrderEvent, error) {
	var events []contracts.OrderEvent

	if target == orders.StatusCancelled {
		event, err := service.applyOrderTransition(txCtx, order, orders.StatusCancelled, systemOperator, nil)
		if err != nil {
			return nil, err
		}
		return append(events, event), nil
	}

	for order.Status != target {
		next := orders.NextForward(order.Status)
		if next == "" {
			return nil, &orders.InconsistentAggregateError{OrderNumber: order.Number, Reason: fmt.Sprintf("no forward edge from %s", order.Status)}
		}
		event, err := service.applyOrderTransition(txCtx, order, next, systemOperator, nil)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// applyOrderTransition is the single code path for aggregate transitions:
// adjacency check, optimistic status swap, status log, and side effects
// (completion stamp + payment policy + table release, or stock restoration
// on cancellation). Both staff-driven updates and derived auto-advances land
// here.
func (service *Service) applyOrderTransition(txCtx context.Context, order *orders.Order, next orders.OrderStatus, changedBy string, notes *string) (contracts.OrderEvent, error) {
	from := order.Status
	if !orders.CanTransition(from, next) {
		return contracts.OrderEvent{}, &orders.InvalidTransitionError{Entity: "order", From: string(from), To: string(next)}
	}

	if next == orders.StatusCompleted {
		// The auto-advance rule should make this unreachable; checked anyway.
		for _, it := range order.Items {
			if !it.Status.IsTerminal() {
				return contracts.OrderEvent{}, &orders.InconsistentAggregateError{
					OrderNumber: order.Number,
					Reason:      fmt.Sprintf("item %d still %s", it.ID, it.Status),
				}
			}
		}
	}

	applied, err := service.orders.UpdateStatusCAS(txCtx, order.ID, from, next)
	if err != nil {
		return contracts.OrderEvent{}, err
	}
	if !applied {
		// the status read at transition time no longer matches the row
		return contracts.OrderEvent{}, &orders.InvalidTransitionError{Entity: "order", From: string(from), To: string(next)}
	}
	order.Status = next

	now := time.Now().UTC()
	if err := service.orders.AppendStatusLog(txCtx, &orders.StatusLog{
		OrderID:   order.ID,
		From:      string(from),
		To:        string(next),
		ChangedBy: &changedBy,
		ChangedAt: now,
		Notes:     notes,
	}); err != nil {
		return contracts.OrderEvent{}, err
	}

	switch next {
	case orders.StatusCompleted:
		if err := service.orders.SetCompletedAt(txCtx, order.ID, now); err != nil {
			return contracts.OrderEvent{}, err
		}
		order.CompletedAt = &now

		store, err := service.catalog.GetStore(txCtx, order.StoreID)
		if err != nil {
			return contracts.OrderEvent{}, err
		}
		if store.AutoMarkPaid && order.PaymentStatus == orders.PaymentUnpaid {
			if err := service.orders.SetPaymentStatus(txCtx, order.ID, orders.PaymentPaid); err != nil {
				return contracts.OrderEvent{}, err
			}
			order.PaymentStatus = orders.PaymentPaid
		}

		if err := service.releaseTable(txCtx, order); err != nil {
			return contracts.OrderEvent{}, err
		}

	case orders.StatusCancelled:
		// Restore stock for every line not already cancelled; lines
		// cancelled individually were credited at their own cancellation.
		for _, it := range order.Items {
			if it.Status == orders.ItemCancelled {
				continue
			}
			if err := service.catalog.RestoreStock(txCtx, it.MenuItemID, it.Quantity); err != nil {
				return contracts.OrderEvent{}, err
			}
		}

		if err := service.releaseTable(txCtx, order); err != nil {
			return contracts.OrderEvent{}, err
		}
	}

	return newEvent(contracts.EventOrderUpdate, order, contracts.OrderEventPayload{
		Status:        string(next),
		OldStatus:     string(from),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   order.TotalAmount.ToFloat2(),
		FinalAmount:   order.FinalAmount.ToFloat2(),
		ChangedBy:     changedBy,
	}), nil
}

// releaseTable frees the dining table and detaches it from the order.
func (service *Service) releaseTable(txCtx context.Context, order *orders.Order) error {
	if order.TableID == nil {
		return nil
	}
	if err := service.catalog.SetTableOccupied(txCtx, *order.TableID, false); err != nil {
		return err
	}
	if err := service.orders.ClearTable(txCtx, order.ID); err != nil {
		return err
	}
	order.TableID = nil
	return nil
}

// publish delivers one event after commit; delivery failures are logged and
// swallowed because the persisted state is authoritative.
func (service *Service) publish(ctx context.Context, event contracts.OrderEvent) {
	if service.pub == nil {
		return
	}
	if err := service.pub.Publish(ctx, event); err != nil {
		service.logger.Error(ctx, "event_publish_failed", "failed to publish "+event.Type+" event", err)
	}
}

func (service *Service) publishAll(ctx context.Context, events []contracts.OrderEvent) {
	for _, event := range events {
		service.publish(ctx, event)
	}
}

func newEvent(eventType string, order *orders.Order, payload contracts.OrderEventPayload) contracts.OrderEvent {
	return contracts.OrderEvent{
		EventID:     uuid.NewString(),
		Type:        eventType,
		StoreID:     order.StoreID,
		TableID:     order.TableID,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}

func eventItems(items []orders.OrderItem) []contracts.OrderEventItem {
	out := make([]contracts.OrderEventItem, 0, len(items))
	for _, it := range items {
		out = append(out, contracts.OrderEventItem{
			ItemID:       it.ID,
			Name:         it.Name,
			Quantity:     it.Quantity,
			Price:        it.Price.ToFloat2(),
			Status:       string(it.Status),
			Instructions: it.Instructions,
		})
	}
	return out
}

func toOrderView(order *orders.Order) ports.OrderView {
	view := ports.OrderView{
		OrderNumber:    order.Number,
		StoreID:        order.StoreID,
		TableID:        order.TableID,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		TotalAmount:    order.TotalAmount,
		DiscountAmount: order.DiscountAmount,
		FinalAmount:    order.FinalAmount,
		CreatedAt:      order.CreatedAt,
		CompletedAt:    order.CompletedAt,
	}
	for i := range order.Items {
		view.Items = append(view.Items, toItemView(&order.Items[i], order.Number))
	}
	return view
}

func toItemView(item *orders.OrderItem, orderNumber string) ports.ItemView {
	return ports.ItemView{
		ItemID:       item.ID,
		OrderNumber:  orderNumber,
		Name:         item.Name,
		Price:        item.Price,
		Quantity:     item.Quantity,
		Subtotal:     item.Subtotal,
		Status:       item.Status,
		Instructions: item.Instructions,
	}
}
