package orderservice

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"tableside/internal/domain/catalog"
	"tableside/internal/domain/orders"
	"tableside/internal/ports"
	"tableside/internal/shared/contracts"
	"tableside/internal/shared/logger"
)

// memState is the shared backing store for the in-memory fakes. The fake unit
// of work snapshots it before each transaction so a returned error rolls the
// whole state back, matching the real transactional behavior.
type memState struct {
	stores   map[int64]catalog.Store
	tables   map[int64]catalog.DiningTable
	menu     map[int64]catalog.MenuItem
	orders   map[int64]*orders.Order
	byNumber map[string]int64
	logs     []orders.StatusLog

	nextOrderID int64
	nextItemID  int64
	nextLogID   int64

	// read bookkeeping: transition paths must go through the locking reads
	lockedOrderReads int
	plainOrderReads  int
}

func newMemState() *memState {
	return &memState{
		stores:   make(map[int64]catalog.Store),
		tables:   make(map[int64]catalog.DiningTable),
		menu:     make(map[int64]catalog.MenuItem),
		orders:   make(map[int64]*orders.Order),
		byNumber: make(map[string]int64),
	}
}

func cloneOrder(o *orders.Order) *orders.Order {
	c := *o
	c.Items = append([]orders.OrderItem(nil), o.Items...)
	if o.TableID != nil {
		v := *o.TableID
		c.TableID = &v
	}
	if o.CompletedAt != nil {
		v := *o.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func (s *memState) clone() *memState {
	out := newMemState()
	for k, v := range s.stores {
		out.stores[k] = v
	}
	for k, v := range s.tables {
		out.tables[k] = v
	}
	for k, v := range s.menu {
		out.menu[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.byNumber {
		out.byNumber[k] = v
	}
	out.logs = append([]orders.StatusLog(nil), s.logs...)
	out.nextOrderID = s.nextOrderID
	out.nextItemID = s.nextItemID
	out.nextLogID = s.nextLogID
	out.lockedOrderReads = s.lockedOrderReads
	out.plainOrderReads = s.plainOrderReads
	return out
}

// memUoW serializes transactions with a mutex, mirroring the row-lock
// behavior the real unit of work gets from FOR UPDATE: one transaction on
// the state at a time, rolled back wholesale on error.
type memUoW struct {
	state *memState
	mu    sync.Mutex
}

func (u *memUoW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	snap := u.state.clone()
	if err := fn(ctx); err != nil {
		*u.state = *snap
		return err
	}
	return nil
}

type memOrderRepo struct{ s *memState }

func (r *memOrderRepo) CreateOrder(_ context.Context, order *orders.Order) error {
	r.s.nextOrderID++
	order.ID = r.s.nextOrderID
	order.Status = orders.StatusPending
	order.PaymentStatus = orders.PaymentUnpaid
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		r.s.nextItemID++
		order.Items[i].ID = r.s.nextItemID
		order.Items[i].OrderID = order.ID
		order.Items[i].Status = orders.ItemPending
	}
	r.s.orders[order.ID] = cloneOrder(order)
	r.s.byNumber[order.Number] = order.ID

	system := "system"
	return r.AppendStatusLog(nil, &orders.StatusLog{
		OrderID: order.ID, From: "", To: string(orders.StatusPending),
		ChangedBy: &system, ChangedAt: order.CreatedAt,
	})
}

func (r *memOrderRepo) GetByNumber(_ context.Context, number string) (*orders.Order, error) {
	r.s.plainOrderReads++
	return r.getByNumber(number)
}

func (r *memOrderRepo) GetByID(_ context.Context, id int64) (*orders.Order, error) {
	r.s.plainOrderReads++
	return r.getByID(id)
}

func (r *memOrderRepo) GetByNumberForUpdate(_ context.Context, number string) (*orders.Order, error) {
	r.s.lockedOrderReads++
	return r.getByNumber(number)
}

func (r *memOrderRepo) GetByIDForUpdate(_ context.Context, id int64) (*orders.Order, error) {
	r.s.lockedOrderReads++
	return r.getByID(id)
}

func (r *memOrderRepo) getByNumber(number string) (*orders.Order, error) {
	id, ok := r.s.byNumber[number]
	if !ok {
		return nil, &orders.NotFoundError{Entity: "order", Key: number}
	}
	return cloneOrder(r.s.orders[id]), nil
}

func (r *memOrderRepo) getByID(id int64) (*orders.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return nil, &orders.NotFoundError{Entity: "order", Key: strconv.FormatInt(id, 10)}
	}
	return cloneOrder(o), nil
}

func (r *memOrderRepo) GetItem(_ context.Context, itemID int64) (*orders.OrderItem, error) {
	for _, o := range r.s.orders {
		for _, it := range o.Items {
			if it.ID == itemID {
				copied := it
				return &copied, nil
			}
		}
	}
	return nil, &orders.NotFoundError{Entity: "order item", Key: strconv.FormatInt(itemID, 10)}
}

func (r *memOrderRepo) UpdateStatusCAS(_ context.Context, orderID int64, expected, next orders.OrderStatus) (bool, error) {
	o, ok := r.s.orders[orderID]
	if !ok || o.Status != expected {
		return false, nil
	}
	o.Status = next
	return true, nil
}

func (r *memOrderRepo) UpdateItemStatusCAS(_ context.Context, itemID int64, expected, next orders.ItemStatus) (bool, error) {
	for _, o := range r.s.orders {
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				if o.Items[i].Status != expected {
					return false, nil
				}
				o.Items[i].Status = next
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *memOrderRepo) SetAmounts(_ context.Context, orderID int64, total, discount, final orders.Money) error {
	o := r.s.orders[orderID]
	o.TotalAmount, o.DiscountAmount, o.FinalAmount = total, discount, final
	return nil
}

func (r *memOrderRepo) SetPaymentStatus(_ context.Context, orderID int64, status orders.PaymentStatus) error {
	r.s.orders[orderID].PaymentStatus = status
	return nil
}

func (r *memOrderRepo) SetCompletedAt(_ context.Context, orderID int64, t time.Time) error {
	r.s.orders[orderID].CompletedAt = &t
	return nil
}

func (r *memOrderRepo) ClearTable(_ context.Context, orderID int64) error {
	r.s.orders[orderID].TableID = nil
	return nil
}

func (r *memOrderRepo) AppendStatusLog(_ context.Context, log *orders.StatusLog) error {
	r.s.nextLogID++
	log.ID = r.s.nextLogID
	r.s.logs = append(r.s.logs, *log)
	return nil
}

func (r *memOrderRepo) ListHistory(_ context.Context, orderID int64) ([]orders.StatusLog, error) {
	var out []orders.StatusLog
	for _, l := range r.s.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

type memCatalogRepo struct{ s *memState }

func (r *memCatalogRepo) GetStore(_ context.Context, id int64) (*catalog.Store, error) {
	st, ok := r.s.stores[id]
	if !ok {
		return nil, &orders.NotFoundError{Entity: "store", Key: strconv.FormatInt(id, 10)}
	}
	return &st, nil
}

func (r *memCatalogRepo) GetTable(_ context.Context, id int64) (*catalog.DiningTable, error) {
	tb, ok := r.s.tables[id]
	if !ok {
		return nil, &orders.NotFoundError{Entity: "table", Key: strconv.FormatInt(id, 10)}
	}
	return &tb, nil
}

func (r *memCatalogRepo) GetMenuItem(_ context.Context, id int64) (*catalog.MenuItem, error) {
	mi, ok := r.s.menu[id]
	if !ok {
		return nil, &orders.NotFoundError{Entity: "menu item", Key: strconv.FormatInt(id, 10)}
	}
	return &mi, nil
}

func (r *memCatalogRepo) DecrementStock(_ context.Context, menuItemID, storeID int64, qty int) (bool, error) {
	mi, ok := r.s.menu[menuItemID]
	if !ok || mi.StoreID != storeID || mi.Stock < qty {
		return false, nil
	}
	mi.Stock -= qty
	r.s.menu[menuItemID] = mi
	return true, nil
}

func (r *memCatalogRepo) RestoreStock(_ context.Context, menuItemID int64, qty int) error {
	mi := r.s.menu[menuItemID]
	mi.Stock += qty
	r.s.menu[menuItemID] = mi
	return nil
}

func (r *memCatalogRepo) SetTableOccupied(_ context.Context, tableID int64, occupied bool) error {
	tb := r.s.tables[tableID]
	tb.Occupied = occupied
	r.s.tables[tableID] = tb
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []contracts.OrderEvent
	fail   bool
}

func (p *capturePublisher) Publish(_ context.Context, event contracts.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(eventType string) []contracts.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []contracts.OrderEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Fixture ids shared by the tests below.
const (
	storeA      = int64(1)
	storeB      = int64(2)
	tableA      = int64(10)
	tableB      = int64(20)
	menuPork    = int64(101) // 20.00, stock 10
	menuTea     = int64(102) // 20.00, stock 5
	menuSpecial = int64(103) // unavailable
	menuOther   = int64(201) // belongs to storeB
)

func newFixture(autoMarkPaid bool) (*Service, *memState, *capturePublisher) {
	state := newMemState()
	state.stores[storeA] = catalog.Store{ID: storeA, Name: "Lanzhou Noodle House", AutoMarkPaid: autoMarkPaid}
	state.stores[storeB] = catalog.Store{ID: storeB, Name: "Second Branch"}
	state.tables[tableA] = catalog.DiningTable{ID: tableA, StoreID: storeA, Number: 4}
	state.tables[tableB] = catalog.DiningTable{ID: tableB, StoreID: storeB, Number: 1}
	state.menu[menuPork] = catalog.MenuItem{ID: menuPork, StoreID: storeA, Name: "Braised Pork Rice", Price: 2000, Stock: 10, Available: true}
	state.menu[menuTea] = catalog.MenuItem{ID: menuTea, StoreID: storeA, Name: "Iced Tea", Price: 2000, Stock: 5, Available: true}
	state.menu[menuSpecial] = catalog.MenuItem{ID: menuSpecial, StoreID: storeA, Name: "Seasonal Special", Price: 1500, Stock: 3, Available: false}
	state.menu[menuOther] = catalog.MenuItem{ID: menuOther, StoreID: storeB, Name: "Branch Dish", Price: 1000, Stock: 8, Available: true}

	pub := &capturePublisher{}
	svc := New(&memUoW{state: state}, &memOrderRepo{state}, &memCatalogRepo{state}, pub, logger.NewLogger("order-service-test"))
	return svc, state, pub
}

func mustPlace(t *testing.T, svc *Service, lines ...ports.OrderLineInput) ports.OrderView {
	t.Helper()
	view, err := svc.PlaceOrder(context.Background(), ports.PlaceOrderCommand{
		StoreID: storeA,
		TableID: tableA,
		Lines:   lines,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return view
}

func TestPlaceOrder(t *testing.T) {
	svc, state, pub := newFixture(false)

	view := mustPlace(t, svc,
		ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1},
		ports.OrderLineInput{MenuItemID: menuTea, Quantity: 1, Instructions: "no ice"},
	)

	if view.Status != orders.StatusPending {
		t.Errorf("status = %s, want pending", view.Status)
	}
	if view.TotalAmount != 4000 || view.FinalAmount != 4000 {
		t.Errorf("amounts = %d/%d, want 4000/4000", view.TotalAmount, view.FinalAmount)
	}
	if len(view.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(view.Items))
	}
	for _, it := range view.Items {
		if it.ItemID == 0 {
			t.Errorf("item %q has no id", it.Name)
		}
		if it.Status != orders.ItemPending {
			t.Errorf("item %q status = %s, want pending", it.Name, it.Status)
		}
	}
	if view.Items[1].Instructions != "no ice" {
		t.Errorf("instructions not carried: %q", view.Items[1].Instructions)
	}

	if got := state.menu[menuPork].Stock; got != 9 {
		t.Errorf("pork stock = %d, want 9", got)
	}
	if got := state.menu[menuTea].Stock; got != 4 {
		t.Errorf("tea stock = %d, want 4", got)
	}
	if !state.tables[tableA].Occupied {
		t.Error("table should be marked occupied")
	}

	if len(pub.events) != 1 || pub.events[0].Type != contracts.EventNewOrder {
		t.Fatalf("events = %+v, want one new_order", pub.events)
	}
	if got := pub.events[0].RoutingKey(); got != "store.1.new_order" {
		t.Errorf("routing key = %q, want store.1.new_order", got)
	}

	history, err := svc.GetOrderHistory(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrderHistory: %v", err)
	}
	if len(history) != 1 || history[0].To != string(orders.StatusPending) {
		t.Errorf("history = %+v, want single creation row to 'pending'", history)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, _, _ := newFixture(false)
	line := ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1}

	tooMany := make([]ports.OrderLineInput, 51)
	for i := range tooMany {
		tooMany[i] = line
	}

	tests := []struct {
		name string
		cmd  ports.PlaceOrderCommand
	}{
		{"missing store", ports.PlaceOrderCommand{TableID: tableA, Lines: []ports.OrderLineInput{line}}},
		{"missing table", ports.PlaceOrderCommand{StoreID: storeA, Lines: []ports.OrderLineInput{line}}},
		{"no lines", ports.PlaceOrderCommand{StoreID: storeA, TableID: tableA}},
		{"too many lines", ports.PlaceOrderCommand{StoreID: storeA, TableID: tableA, Lines: tooMany}},
		{"zero quantity", ports.PlaceOrderCommand{StoreID: storeA, TableID: tableA, Lines: []ports.OrderLineInput{{MenuItemID: menuPork}}}},
		{"missing menu item id", ports.PlaceOrderCommand{StoreID: storeA, TableID: tableA, Lines: []ports.OrderLineInput{{Quantity: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.PlaceOrder(context.Background(), tt.cmd); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestPlaceOrderInsufficientStockAbortsWholeOrder(t *testing.T) {
	svc, state, pub := newFixture(false)

	_, err := svc.PlaceOrder(context.Background(), ports.PlaceOrderCommand{
		StoreID: storeA,
		TableID: tableA,
		Lines: []ports.OrderLineInput{
			{MenuItemID: menuPork, Quantity: 2},
			{MenuItemID: menuTea, Quantity: 99},
		},
	})

	var stockErr *orders.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err = %v, want *InsufficientStockError", err)
	}
	if stockErr.MenuItemID != menuTea {
		t.Errorf("error names item %d, want %d", stockErr.MenuItemID, menuTea)
	}

	// the first line's decrement must roll back with the rest
	if got := state.menu[menuPork].Stock; got != 10 {
		t.Errorf("pork stock = %d, want 10 after rollback", got)
	}
	if got := state.menu[menuTea].Stock; got != 5 {
		t.Errorf("tea stock = %d, want 5", got)
	}
	if len(state.orders) != 0 {
		t.Errorf("%d orders persisted, want 0", len(state.orders))
	}
	if state.tables[tableA].Occupied {
		t.Error("table must stay free on a failed order")
	}
	if len(pub.events) != 0 {
		t.Errorf("%d events published for a failed order, want 0", len(pub.events))
	}
}

func TestPlaceOrderUnavailableItem(t *testing.T) {
	svc, _, _ := newFixture(false)

	_, err := svc.PlaceOrder(context.Background(), ports.PlaceOrderCommand{
		StoreID: storeA,
		TableID: tableA,
		Lines:   []ports.OrderLineInput{{MenuItemID: menuSpecial, Quantity: 1}},
	})
	var stockErr *orders.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err = %v, want *InsufficientStockError for unavailable item", err)
	}
}

func TestPlaceOrderCrossStoreReferences(t *testing.T) {
	svc, _, _ := newFixture(false)

	// table belongs to another store
	_, err := svc.PlaceOrder(context.Background(), ports.PlaceOrderCommand{
		StoreID: storeA,
		TableID: tableB,
		Lines:   []ports.OrderLineInput{{MenuItemID: menuPork, Quantity: 1}},
	})
	var notFound *orders.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("foreign table: err = %v, want *NotFoundError", err)
	}

	// menu item belongs to another store
	_, err = svc.PlaceOrder(context.Background(), ports.PlaceOrderCommand{
		StoreID: storeA,
		TableID: tableA,
		Lines:   []ports.OrderLineInput{{MenuItemID: menuOther, Quantity: 1}},
	})
	if !errors.As(err, &notFound) {
		t.Fatalf("foreign menu item: err = %v, want *NotFoundError", err)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	svc, _, pub := newFixture(false)
	view := mustPlace(t, svc, ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1})

	operator := "chef_wang"
	updated, err := svc.UpdateOrderStatus(context.Background(), ports.UpdateOrderStatusCommand{
		OrderNumber: view.OrderNumber,
		Next:        orders.StatusPreparing,
		ChangedBy:   &operator,
	})
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if updated.Status != orders.StatusPreparing {
		t.Errorf("status = %s, want preparing", updated.Status)
	}

	events := pub.byType(contracts.EventOrderUpdate)
	if len(events) != 1 {
		t.Fatalf("got %d order_update events, want 1", len(events))
	}
	if events[0].Payload.OldStatus != "pending" || events[0].Payload.ChangedBy != "chef_wang" {
		t.Errorf("event payload = %+v", events[0].Payload)
	}

	history, err := svc.GetOrderHistory(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrderHistory: %v", err)
	}
	last := history[len(history)-1]
	if last.From != "pending" || last.To != "preparing" || last.ChangedBy == nil || *last.ChangedBy != "chef_wang" {
		t.Errorf("last log row = %+v", last)
	}
}

func TestUpdateOrderStatusRejectsIllegalEdges(t *testing.T) {
	svc, _, _ := newFixture(false)
	view := mustPlace(t, svc, ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1})

	var transErr *orders.InvalidTransitionError
	for _, next := range []orders.OrderStatus{orders.StatusReady, orders.StatusServing, orders.StatusCompleted, "shipped"} {
		_, err := svc.UpdateOrderStatus(context.Background(), ports.UpdateOrderStatusCommand{
			OrderNumber: view.OrderNumber,
			Next:        next,
		})
		if !errors.As(err, &transErr) {
			t.Errorf("pending -> %s: err = %v, want *InvalidTransitionError", next, err)
		}
	}

	// a rejected transition leaves the order untouched
	got, err := svc.GetOrder(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != orders.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestCancelOrderRestoresStockAndFreesTable(t *testing.T) {
	svc, state, _ := newFixture(false)
	view := mustPlace(t, svc,
		ports.OrderLineInput{MenuItemID: menuPork, Quantity: 2},
		ports.OrderLineInput{MenuItemID: menuTea, Quantity: 1},
	)
	if state.menu[menuPork].Stock != 8 || state.menu[menuTea].Stock != 4 {
		t.Fatal("fixture stock not decremented as expected")
	}

	cancelled, err := svc.UpdateOrderStatus(context.Background(), ports.UpdateOrderStatusCommand{
		OrderNumber: view.OrderNumber,
		Next:        orders.StatusCancelled,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != orders.StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.TableID != nil {
		t.Error("cancelled order should be detached from its table")
	}
	if state.tables[tableA].Occupied {
		t.Error("table should be freed on cancellation")
	}
	if state.menu[menuPork].Stock != 10 || state.menu[menuTea].Stock != 5 {
		t.Errorf("stock = %d/%d, want fully restored 10/5", state.menu[menuPork].Stock, state.menu[menuTea].Stock)
	}

	// cancelling again is rejected and must not credit stock a second time
	_, err = svc.UpdateOrderStatus(context.Background(), ports.UpdateOrderStatusCommand{
		OrderNumber: view.OrderNumber,
		Next:        orders.StatusCancelled,
	})
	var transErr *orders.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("second cancel: err = %v, want *InvalidTransitionError", err)
	}
	if state.menu[menuPork].Stock != 10 || state.menu[menuTea].Stock != 5 {
		t.Errorf("stock = %d/%d after double cancel, want 10/5", state.menu[menuPork].Stock, state.menu[menuTea].Stock)
	}
}

func TestCancelItemRecalculatesTotals(t *testing.T) {
	svc, state, pub := newFixture(false)
	view := mustPlace(t, svc,
		ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1},
		ports.OrderLineInput{MenuItemID: menuTea, Quantity: 1},
	)
	teaItem := view.Items[1]

	itemView, err := svc.UpdateItemStatus(context.Background(), teaItem.ItemID, orders.ItemCancelled)
	if err != nil {
		t.Fatalf("cancel item: %v", err)
	}
	if itemView.Status != orders.ItemCancelled {
		t.Errorf("item status = %s, want cancelled", itemView.Status)
	}

	if got := state.menu[menuTea].Stock; got != 5 {
		t.Errorf("tea stock = %d, want 5 after line cancellation", got)
	}

	got, err := svc.GetOrder(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.TotalAmount != 2000 || got.FinalAmount != 2000 {
		t.Errorf("amounts = %d/%d, want 2000/2000 after cancellation", got.TotalAmount, got.FinalAmount)
	}
	if got.Status != orders.StatusPending {
		t.Errorf("order status = %s, want still pending (one live item left)", got.Status)
	}

	if len(pub.byType(contracts.EventItemUpdate)) != 1 {
		t.Errorf("want one item_update event, got %d", len(pub.byType(contracts.EventItemUpdate)))
	}

	// order-level cancellation now credits only the surviving line
	if _, err := svc.UpdateOrderStatus(context.Background(), ports.UpdateOrderStatusCommand{
		OrderNumber: view.OrderNumber,
		Next:        orders.StatusCancelled,
	}); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if state.menu[menuPork].Stock != 10 {
		t.Errorf("pork stock = %d, want 10", state.menu[menuPork].Stock)
	}
	if state.menu[menuTea].Stock != 5 {
		t.Errorf("tea stock = %d, want 5 (no double credit)", state.menu[menuTea].Stock)
	}
}

func TestAutoCompleteWhenAllItemsServed(t *testing.T) {
	svc, state, pub := newFixture(true) // auto-mark-paid store
	view := mustPlace(t, svc, ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1})
	itemID := view.Items[0].ItemID

	for _, next := range []orders.ItemStatus{orders.ItemPreparing, orders.ItemReady, orders.ItemServed} {
		if _, err := svc.UpdateItemStatus(context.Background(), itemID, next); err != nil {
			t.Fatalf("item -> %s: %v", next, err)
		}
	}

	got, err := svc.GetOrder(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != orders.StatusCompleted {
		t.Fatalf("status = %s, want auto-completed", got.Status)
	}
	if got.PaymentStatus != orders.PaymentPaid {
		t.Errorf("payment = %s, want paid via store policy", got.PaymentStatus)
	}
	if got.CompletedAt == nil {
		t.Error("completed order must carry a completion timestamp")
	}
	if got.TableID != nil || state.tables[tableA].Occupied {
		t.Error("completed order should free its table")
	}

	// the aggregate walked every intermediate stage, attributed to the system
	history, err := svc.GetOrderHistory(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrderHistory: %v", err)
	}
	var hops []string
	for _, l := range history {
		if l.ItemID == nil && l.From != "" {
			if l.ChangedBy == nil || *l.ChangedBy != "system" {
				t.Errorf("auto hop %s->%s attributed to %v, want system", l.From, l.To, l.ChangedBy)
			}
			hops = append(hops, l.From+">"+l.To)
		}
	}
	wantHops := []string{"pending>preparing", "preparing>ready", "ready>serving", "serving>completed"}
	if len(hops) != len(wantHops) {
		t.Fatalf("aggregate hops = %v, want %v", hops, wantHops)
	}
	for i := range hops {
		if hops[i] != wantHops[i] {
			t.Errorf("hop %d = %s, want %s", i, hops[i], wantHops[i])
		}
	}

	if got := len(pub.byType(contracts.EventOrderUpdate)); got != 4 {
		t.Errorf("got %d order_update events, want 4", got)
	}
}

func TestAutoCancelWhenAllItemsCancelled(t *testing.T) {
	svc, state, _ := newFixture(false)
	view := mustPlace(t, svc,
		ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1},
		ports.OrderLineInput{MenuItemID: menuTea, Quantity: 2},
	)

	for _, it := range view.Items {
		if _, err := svc.UpdateItemStatus(context.Background(), it.ItemID, orders.ItemCancelled); err != nil {
			t.Fatalf("cancel item %d: %v", it.ItemID, err)
		}
	}

	got, err := svc.GetOrder(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != orders.StatusCancelled {
		t.Errorf("status = %s, want auto-cancelled", got.Status)
	}
	if got.FinalAmount != 0 {
		t.Errorf("final = %d, want 0", got.FinalAmount)
	}

	// each line credited exactly once: per-line at its own cancellation, and
	// the aggregate cancellation skips already-cancelled lines
	if state.menu[menuPork].Stock != 10 || state.menu[menuTea].Stock != 5 {
		t.Errorf("stock = %d/%d, want 10/5", state.menu[menuPork].Stock, state.menu[menuTea].Stock)
	}
	if state.tables[tableA].Occupied {
		t.Error("table should be freed")
	}
}

func TestItemTransitionsBlockedOnTerminalOrder(t *testing.T) {
	svc, state, _ := newFixture(false)
	view := mustPlace(t, svc, ports.OrderLineInput{MenuItemID: menuPork, Quantity: 3})

	if _, err := svc.UpdateOrderStatus(context.Background(), ports.UpdateOrderStatusCommand{
		OrderNumber: view.OrderNumber,
		Next:        orders.StatusCancelled,
	}); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	_, err := svc.UpdateItemStatus(context.Background(), view.Items[0].ItemID, orders.ItemCancelled)
	var transErr *orders.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("err = %v, want *InvalidTransitionError", err)
	}
	// the terminal guard also blocks a second stock credit
	if state.menu[menuPork].Stock != 10 {
		t.Errorf("pork stock = %d, want 10", state.menu[menuPork].Stock)
	}
}

func TestItemInvalidTransitions(t *testing.T) {
	svc, _, _ := newFixture(false)
	view := mustPlace(t, svc, ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1})
	itemID := view.Items[0].ItemID

	for _, next := range []orders.ItemStatus{orders.ItemPreparing, orders.ItemReady} {
		if _, err := svc.UpdateItemStatus(context.Background(), itemID, next); err != nil {
			t.Fatalf("item -> %s: %v", next, err)
		}
	}

	// a ready item is out of the kitchen; it can only be served
	_, err := svc.UpdateItemStatus(context.Background(), itemID, orders.ItemCancelled)
	var transErr *orders.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("ready -> cancelled: err = %v, want *InvalidTransitionError", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	svc, _, _ := newFixture(false)
	_, err := svc.GetOrder(context.Background(), "ORD_19700101000000_000000000000")
	var notFound *orders.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want *NotFoundError", err)
	}
}

func TestStatusUpdatesUseLockingReads(t *testing.T) {
	svc, state, _ := newFixture(false)
	view := mustPlace(t, svc, ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1})

	if state.lockedOrderReads != 0 {
		t.Fatalf("creation took %d order locks, want 0", state.lockedOrderReads)
	}

	if _, err := svc.UpdateOrderStatus(context.Background(), ports.UpdateOrderStatusCommand{
		OrderNumber: view.OrderNumber,
		Next:        orders.StatusPreparing,
	}); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if state.lockedOrderReads != 1 {
		t.Errorf("aggregate transition took %d order locks, want 1", state.lockedOrderReads)
	}

	if _, err := svc.UpdateItemStatus(context.Background(), view.Items[0].ItemID, orders.ItemPreparing); err != nil {
		t.Fatalf("UpdateItemStatus: %v", err)
	}
	if state.lockedOrderReads != 2 {
		t.Errorf("item transition took %d order locks total, want 2", state.lockedOrderReads)
	}

	// the read path must not lock
	before := state.lockedOrderReads
	if _, err := svc.GetOrder(context.Background(), view.OrderNumber); err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if _, err := svc.GetOrderHistory(context.Background(), view.OrderNumber); err != nil {
		t.Fatalf("GetOrderHistory: %v", err)
	}
	if state.lockedOrderReads != before {
		t.Errorf("read path took %d order locks", state.lockedOrderReads-before)
	}
}

func TestConcurrentOrderAndItemCancelConserveStock(t *testing.T) {
	svc, state, _ := newFixture(false)
	view := mustPlace(t, svc,
		ports.OrderLineInput{MenuItemID: menuPork, Quantity: 2},
		ports.OrderLineInput{MenuItemID: menuTea, Quantity: 1},
	)

	// Whichever transaction wins the order lock, each line's stock must be
	// credited exactly once: either the order cancel restores both lines, or
	// the item cancel credits its line first and the order cancel skips it.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = svc.UpdateOrderStatus(context.Background(), ports.UpdateOrderStatusCommand{
			OrderNumber: view.OrderNumber,
			Next:        orders.StatusCancelled,
		})
	}()
	go func() {
		defer wg.Done()
		_, _ = svc.UpdateItemStatus(context.Background(), view.Items[0].ItemID, orders.ItemCancelled)
	}()
	wg.Wait()

	if state.menu[menuPork].Stock != 10 || state.menu[menuTea].Stock != 5 {
		t.Errorf("stock = %d/%d, want exactly 10/5", state.menu[menuPork].Stock, state.menu[menuTea].Stock)
	}
	got, err := svc.GetOrder(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != orders.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestConcurrentSiblingServesAutoComplete(t *testing.T) {
	svc, _, _ := newFixture(false)
	view := mustPlace(t, svc,
		ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1},
		ports.OrderLineInput{MenuItemID: menuTea, Quantity: 1},
	)

	for _, it := range view.Items {
		for _, next := range []orders.ItemStatus{orders.ItemPreparing, orders.ItemReady} {
			if _, err := svc.UpdateItemStatus(context.Background(), it.ItemID, next); err != nil {
				t.Fatalf("item %d -> %s: %v", it.ItemID, next, err)
			}
		}
	}

	// serving the last two lines concurrently: the transitions serialize on
	// the order lock, so the later one sees every sibling terminal and the
	// aggregate auto-completes exactly once
	var wg sync.WaitGroup
	for _, it := range view.Items {
		wg.Add(1)
		go func(itemID int64) {
			defer wg.Done()
			if _, err := svc.UpdateItemStatus(context.Background(), itemID, orders.ItemServed); err != nil {
				t.Errorf("serve item %d: %v", itemID, err)
			}
		}(it.ItemID)
	}
	wg.Wait()

	got, err := svc.GetOrder(context.Background(), view.OrderNumber)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != orders.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestConcurrentPlaceOrderNoOversell(t *testing.T) {
	svc, state, _ := newFixture(false)

	const (
		workers = 8
		qty     = 3 // pork stock is 10, so at most 3 orders can be filled
	)

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), ports.PlaceOrderCommand{
				StoreID: storeA,
				TableID: tableA,
				Lines:   []ports.OrderLineInput{{MenuItemID: menuPork, Quantity: qty}},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		var stockErr *orders.InsufficientStockError
		if !errors.As(err, &stockErr) {
			t.Errorf("unexpected failure: %v", err)
		}
	}

	if successes != 3 {
		t.Errorf("%d orders filled, want 3", successes)
	}
	if got := state.menu[menuPork].Stock; got != 10-3*qty {
		t.Errorf("pork stock = %d, want %d", got, 10-3*qty)
	}
	if len(state.orders) != successes {
		t.Errorf("%d orders persisted, want %d", len(state.orders), successes)
	}
}

func TestPublishFailureDoesNotFailTheOrder(t *testing.T) {
	svc, state, pub := newFixture(false)
	pub.fail = true

	view := mustPlace(t, svc, ports.OrderLineInput{MenuItemID: menuPork, Quantity: 1})
	if view.OrderNumber == "" {
		t.Fatal("order not created")
	}
	if len(state.orders) != 1 {
		t.Errorf("%d orders persisted, want 1", len(state.orders))
	}
}
