package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"tableside/internal/domain/orders"
	"tableside/internal/domain/workflow"
	"tableside/internal/ports"
)

// WorkflowRepo persists the role registry and the flow configuration.
type WorkflowRepo struct{}

func NewWorkflowRepo() ports.WorkflowRepository {
	return &WorkflowRepo{}
}

func (r *WorkflowRepo) ListRoles(ctx context.Context, storeID int64) ([]workflow.Role, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, store_id, name, description, enabled, sort_order
		FROM roles
		WHERE store_id = $1
		ORDER BY sort_order ASC, id ASC`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []workflow.Role
	for rows.Next() {
		var role workflow.Role
		if err := rows.Scan(&role.ID, &role.StoreID, &role.Name, &role.Description, &role.Enabled, &role.SortOrder); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *WorkflowRepo) GetRole(ctx context.Context, roleID int64) (*workflow.Role, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var role workflow.Role
	err = tx.QueryRow(ctx, `
		SELECT id, store_id, name, description, enabled, sort_order
		FROM roles
		WHERE id = $1`, roleID,
	).Scan(&role.ID, &role.StoreID, &role.Name, &role.Description, &role.Enabled, &role.SortOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.NotFoundError{Entity: "role", Key: strconv.FormatInt(roleID, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// UpsertRole inserts or updates by the (store_id, name) natural key.
func (r *WorkflowRepo) UpsertRole(ctx context.Context, role *workflow.Role) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	return tx.QueryRow(ctx, `
		INSERT INTO roles (store_id, name, description, enabled, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (store_id, name) DO UPDATE
		  SET description = EXCLUDED.description,
		      enabled = EXCLUDED.enabled,
		      sort_order = EXCLUDED.sort_order
		RETURNING id`,
		role.StoreID, role.Name, role.Description, role.Enabled, role.SortOrder,
	).Scan(&role.ID)
}

// DeleteRole removes the role row only. Flow entries referencing the name
// stay behind as inert orphans; status logs are snapshots and untouched.
func (r *WorkflowRepo) DeleteRole(ctx context.Context, roleID int64) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &orders.NotFoundError{Entity: "role", Key: strconv.FormatInt(roleID, 10)}
	}
	return nil
}

func (r *WorkflowRepo) ListFlowConfig(ctx context.Context, storeID int64) ([]workflow.FlowConfigEntry, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, store_id, role_name, order_status, action_mode, enabled, sort_order
		FROM flow_config
		WHERE store_id = $1
		ORDER BY role_name ASC, sort_order ASC, id ASC`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []workflow.FlowConfigEntry
	for rows.Next() {
		var e workflow.FlowConfigEntry
		if err := rows.Scan(&e.ID, &e.StoreID, &e.Role, &e.Status, &e.Mode, &e.Enabled, &e.SortOrder); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindFlowConfig looks up one (store, role, status) mapping. A missing row
// returns (nil, nil): the resolver translates it into the neutral default,
// it is not an application error.
func (r *WorkflowRepo) FindFlowConfig(ctx context.Context, storeID int64, role string, status orders.OrderStatus) (*workflow.FlowConfigEntry, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var e workflow.FlowConfigEntry
	err = tx.QueryRow(ctx, `
		SELECT id, store_id, role_name, order_status, action_mode, enabled, sort_order
		FROM flow_config
		WHERE store_id = $1 AND role_name = $2 AND order_status = $3`,
		storeID, role, status,
	).Scan(&e.ID, &e.StoreID, &e.Role, &e.Status, &e.Mode, &e.Enabled, &e.SortOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertFlowConfig inserts or updates by the (store, role, status) triple.
func (r *WorkflowRepo) UpsertFlowConfig(ctx context.Context, entry *workflow.FlowConfigEntry) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	return tx.QueryRow(ctx, `
		INSERT INTO flow_config (store_id, role_name, order_status, action_mode, enabled, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (store_id, role_name, order_status) DO UPDATE
		  SET action_mode = EXCLUDED.action_mode,
		      enabled = EXCLUDED.enabled,
		      sort_order = EXCLUDED.sort_order
		RETURNING id`,
		entry.StoreID, entry.Role, entry.Status, entry.Mode, entry.Enabled, entry.SortOrder,
	).Scan(&entry.ID)
}

// DeleteWorkflow clears the store's roles and flow entries. Reset runs it
// together with the re-seed inside one WithinTx call.
func (r *WorkflowRepo) DeleteWorkflow(ctx context.Context, storeID int64) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM flow_config WHERE store_id = $1`, storeID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `DELETE FROM roles WHERE store_id = $1`, storeID)
	return err
}

func (r *WorkflowRepo) InsertRoles(ctx context.Context, roles []workflow.Role) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	for i := range roles {
		role := &roles[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO roles (store_id, name, description, enabled, sort_order)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			role.StoreID, role.Name, role.Description, role.Enabled, role.SortOrder,
		).Scan(&role.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *WorkflowRepo) InsertFlowConfig(ctx context.Context, entries []workflow.FlowConfigEntry) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	for i := range entries {
		e := &entries[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO flow_config (store_id, role_name, order_status, action_mode, enabled, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			e.StoreID, e.Role, e.Status, e.Mode, e.Enabled, e.SortOrder,
		).Scan(&e.ID)
		if err != nil {
			return err
		}
	}
	return nil
}
