package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"tableside/internal/domain/catalog"
	"tableside/internal/domain/orders"
	"tableside/internal/ports"
)

// CatalogRepo gives the order flow its minimal view of stores, tables, and
// menu items. Stock adjustments are conditional SQL updates; the check and
// the decrement are one statement, so concurrent orders cannot oversell.
type CatalogRepo struct{}

func NewCatalogRepo() ports.CatalogRepository {
	return &CatalogRepo{}
}

func (r *CatalogRepo) GetStore(ctx context.Context, id int64) (*catalog.Store, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var store catalog.Store
	err = tx.QueryRow(ctx, `
		SELECT id, name, auto_mark_paid
		FROM stores
		WHERE id = $1`, id,
	).Scan(&store.ID, &store.Name, &store.AutoMarkPaid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.NotFoundError{Entity: "store", Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *CatalogRepo) GetTable(ctx context.Context, id int64) (*catalog.DiningTable, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var table catalog.DiningTable
	err = tx.QueryRow(ctx, `
		SELECT id, store_id, number, occupied
		FROM dining_tables
		WHERE id = $1`, id,
	).Scan(&table.ID, &table.StoreID, &table.Number, &table.Occupied)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.NotFoundError{Entity: "table", Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &table, nil
}

func (r *CatalogRepo) GetMenuItem(ctx context.Context, id int64) (*catalog.MenuItem, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var item catalog.MenuItem
	err = tx.QueryRow(ctx, `
		SELECT id, store_id, name, price::numeric*100, stock, available
		FROM menu_items
		WHERE id = $1`, id,
	).Scan(&item.ID, &item.StoreID, &item.Name, &item.Price, &item.Stock, &item.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.NotFoundError{Entity: "menu item", Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DecrementStock performs the atomic conditional decrement. The WHERE clause
// carries both the ownership check and the stock floor; zero affected rows
// means the item is missing, foreign, or short on stock.
func (r *CatalogRepo) DecrementStock(ctx context.Context, menuItemID, storeID int64, qty int) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE menu_items
		SET stock = stock - $1, updated_at = now()
		WHERE id = $2 AND store_id = $3 AND stock >= $1`,
		qty, menuItemID, storeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RestoreStock credits quantity back on cancellation.
func (r *CatalogRepo) RestoreStock(ctx context.Context, menuItemID int64, qty int) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE menu_items
		SET stock = stock + $1, updated_at = now()
		WHERE id = $2`,
		qty, menuItemID)
	return err
}

func (r *CatalogRepo) SetTableOccupied(ctx context.Context, tableID int64, occupied bool) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE dining_tables
		SET occupied = $1
		WHERE id = $2`,
		occupied, tableID)
	return err
}
