package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"tableside/internal/domain/orders"
	"tableside/internal/ports"
)

// OrdersRepo implements persistence for orders using pgx and SQL.
type OrdersRepo struct{}

func NewOrdersRepo() ports.OrderRepository {
	return &OrdersRepo{}
}

// CreateOrder inserts the order header, its items, and the initial 'pending'
// status log row. Money columns are NUMERIC(10,2); integer cents are sent
// and divided by 100 in SQL to avoid floating errors.
func (r *OrdersRepo) CreateOrder(ctx context.Context, order *orders.Order) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (number, store_id, table_id, total_amount, discount_amount, final_amount, status, payment_status, payment_method)
		VALUES ($1, $2, $3, $4::numeric/100, $5::numeric/100, $6::numeric/100, 'pending', 'unpaid', $7)
		RETURNING id, created_at, updated_at`,
		order.Number,
		order.StoreID,
		order.TableID,
		int64(order.TotalAmount),
		int64(order.DiscountAmount),
		int64(order.FinalAmount),
		order.PaymentMethod,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return err
	}
	order.Status = orders.StatusPending
	order.PaymentStatus = orders.PaymentUnpaid

	for i := range order.Items {
		it := &order.Items[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, name, price, quantity, subtotal, status, instructions)
			VALUES ($1, $2, $3, $4::numeric/100, $5, $6::numeric/100, 'pending', $7)
			RETURNING id`,
			order.ID,
			it.MenuItemID,
			it.Name,
			int64(it.Price),
			it.Quantity,
			int64(it.Subtotal),
			it.Instructions,
		).Scan(&it.ID)
		if err != nil {
			return err
		}
		it.OrderID = order.ID
		it.Status = orders.ItemPending
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, item_id, from_status, to_status, changed_by, changed_at, notes)
		VALUES ($1, NULL, '', 'pending', $2, $3, NULL)`,
		order.ID,
		"system",
		time.Now().UTC(),
	)
	return err
}

// GetByNumber retrieves an order with its items by its unique number.
func (r *OrdersRepo) GetByNumber(ctx context.Context, number string) (*orders.Order, error) {
	return r.getOrder(ctx, `WHERE number = $1`, number, false)
}

// GetByID retrieves an order with its items by primary key.
func (r *OrdersRepo) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	return r.getOrder(ctx, `WHERE id = $1`, id, false)
}

// GetByNumberForUpdate locks the order row (SELECT ... FOR UPDATE) for the
// rest of the transaction. Transition paths read through this so concurrent
// item and aggregate updates on the same order execute one after the other.
func (r *OrdersRepo) GetByNumberForUpdate(ctx context.Context, number string) (*orders.Order, error) {
	return r.getOrder(ctx, `WHERE number = $1`, number, true)
}

// GetByIDForUpdate is the locking variant of GetByID.
func (r *OrdersRepo) GetByIDForUpdate(ctx context.Context, id int64) (*orders.Order, error) {
	return r.getOrder(ctx, `WHERE id = $1`, id, true)
}

func (r *OrdersRepo) getOrder(ctx context.Context, where string, arg any, lock bool) (*orders.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, number, store_id, table_id,
		       total_amount::numeric*100, discount_amount::numeric*100, final_amount::numeric*100,
		       status, payment_status, payment_method, created_at, updated_at, completed_at
		FROM orders ` + where
	if lock {
		query += ` FOR UPDATE`
	}

	var order orders.Order
	err = tx.QueryRow(ctx, query, arg).Scan(
		&order.ID, &order.Number, &order.StoreID, &order.TableID,
		&order.TotalAmount, &order.DiscountAmount, &order.FinalAmount,
		&order.Status, &order.PaymentStatus, &order.PaymentMethod,
		&order.CreatedAt, &order.UpdatedAt, &order.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		key, _ := arg.(string)
		if key == "" {
			if id, ok := arg.(int64); ok {
				key = strconv.FormatInt(id, 10)
			}
		}
		return nil, &orders.NotFoundError{Entity: "order", Key: key}
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, menu_item_id, name, price::numeric*100, quantity, subtotal::numeric*100, status, instructions
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, order.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item orders.OrderItem
		if err := rows.Scan(&item.ID, &item.MenuItemID, &item.Name, &item.Price, &item.Quantity, &item.Subtotal, &item.Status, &item.Instructions); err != nil {
			return nil, err
		}
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
	}

	return &order, rows.Err()
}

// GetItem retrieves a single line by primary key.
func (r *OrdersRepo) GetItem(ctx context.Context, itemID int64) (*orders.OrderItem, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var item orders.OrderItem
	err = tx.QueryRow(ctx, `
		SELECT id, order_id, menu_item_id, name, price::numeric*100, quantity, subtotal::numeric*100, status, instructions
		FROM order_items
		WHERE id = $1`, itemID,
	).Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name, &item.Price, &item.Quantity, &item.Subtotal, &item.Status, &item.Instructions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.NotFoundError{Entity: "order item", Key: strconv.FormatInt(itemID, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateStatusCAS updates the order status only when the row still holds the
// expected status. Zero affected rows means a concurrent transition won.
func (r *OrdersRepo) UpdateStatusCAS(ctx context.Context, orderID int64, expected, next orders.OrderStatus) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		next, orderID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateItemStatusCAS is the per-item variant of UpdateStatusCAS.
func (r *OrdersRepo) UpdateItemStatusCAS(ctx context.Context, itemID int64, expected, next orders.ItemStatus) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE order_items
		SET status = $1
		WHERE id = $2 AND status = $3`,
		next, itemID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetAmounts persists recomputed totals after an item cancellation.
func (r *OrdersRepo) SetAmounts(ctx context.Context, orderID int64, total, discount, final orders.Money) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET total_amount = $1::numeric/100, discount_amount = $2::numeric/100, final_amount = $3::numeric/100, updated_at = now()
		WHERE id = $4`,
		int64(total), int64(discount), int64(final), orderID)
	return err
}

// SetPaymentStatus updates the payment status of an order.
func (r *OrdersRepo) SetPaymentStatus(ctx context.Context, orderID int64, status orders.PaymentStatus) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1, updated_at = now()
		WHERE id = $2`,
		status, orderID)
	return err
}

// SetCompletedAt stamps the completion timestamp.
func (r *OrdersRepo) SetCompletedAt(ctx context.Context, orderID int64, t time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET completed_at = $1, updated_at = now()
		WHERE id = $2`,
		t, orderID)
	return err
}

// ClearTable detaches the order from its table once the table is freed.
func (r *OrdersRepo) ClearTable(ctx context.Context, orderID int64) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET table_id = NULL, updated_at = now()
		WHERE id = $1`,
		orderID)
	return err
}

// AppendStatusLog adds one transition row to the append-only history.
func (r *OrdersRepo) AppendStatusLog(ctx context.Context, log *orders.StatusLog) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	return tx.QueryRow(ctx, `
		INSERT INTO order_status_log (order_id, item_id, from_status, to_status, changed_by, changed_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		log.OrderID, log.ItemID, log.From, log.To, log.ChangedBy, log.ChangedAt, log.Notes,
	).Scan(&log.ID)
}

// ListHistory retrieves the transition history for an order.
func (r *OrdersRepo) ListHistory(ctx context.Context, orderID int64) ([]orders.StatusLog, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, order_id, item_id, from_status, to_status, changed_by, changed_at, notes
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY changed_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []orders.StatusLog
	for rows.Next() {
		var log orders.StatusLog
		if err := rows.Scan(&log.ID, &log.OrderID, &log.ItemID, &log.From, &log.To, &log.ChangedBy, &log.ChangedAt, &log.Notes); err != nil {
			return nil, err
		}
		history = append(history, log)
	}

	return history, rows.Err()
}
