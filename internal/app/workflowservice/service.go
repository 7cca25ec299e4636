package workflowservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tableside/internal/domain/orders"
	"tableside/internal/domain/workflow"
	"tableside/internal/ports"
	"tableside/internal/shared/logger"
)

// Service implements ports.WorkflowService: the role registry, the flow
// configuration store, and the read-only resolver. Reads go straight to
// storage so the resolver can never serve a stale mapping.
type Service struct {
	uow    ports.UnitOfWork
	repo   ports.WorkflowRepository
	logger *logger.Logger
}

var _ ports.WorkflowService = (*Service)(nil)

func New(uow ports.UnitOfWork, repo ports.WorkflowRepository, log *logger.Logger) *Service {
	return &Service{uow: uow, repo: repo, logger: log}
}

// ListRoles returns the store's roles ordered by sort order.
func (service *Service) ListRoles(ctx context.Context, storeID int64) ([]workflow.Role, error) {
	var roles []workflow.Role
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		roles, err = service.repo.ListRoles(txCtx, storeID)
		return err
	})
	return roles, err
}

// UpsertRole creates or updates a role by its (store, name) natural key.
func (service *Service) UpsertRole(ctx context.Context, role workflow.Role) (workflow.Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.StoreID <= 0 {
		return workflow.Role{}, errors.New("role: store id is required")
	}
	if role.Name == "" {
		return workflow.Role{}, errors.New("role: name is required")
	}

	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return service.repo.UpsertRole(txCtx, &role)
	})
	return role, err
}

// DeleteRole removes a role. Flow entries referencing it become inert
// orphans; historical status logs keep their operator-name snapshots.
func (service *Service) DeleteRole(ctx context.Context, roleID int64) error {
	return service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return service.repo.DeleteRole(txCtx, roleID)
	})
}

func (service *Service) ListFlowConfig(ctx context.Context, storeID int64) ([]workflow.FlowConfigEntry, error) {
	var entries []workflow.FlowConfigEntry
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		entries, err = service.repo.ListFlowConfig(txCtx, storeID)
		return err
	})
	return entries, err
}

// ListFlowConfigGrouped keys the same entries by role name for UI rendering.
func (service *Service) ListFlowConfigGrouped(ctx context.Context, storeID int64) (map[string][]workflow.FlowConfigEntry, error) {
	entries, err := service.ListFlowConfig(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return workflow.GroupByRole(entries), nil
}

// UpsertFlowConfig writes a single mapping after validation.
func (service *Service) UpsertFlowConfig(ctx context.Context, entry workflow.FlowConfigEntry) (workflow.FlowConfigEntry, error) {
	entry.Role = strings.TrimSpace(entry.Role)
	if err := entry.Validate(); err != nil {
		return workflow.FlowConfigEntry{}, err
	}

	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return service.repo.UpsertFlowConfig(txCtx, &entry)
	})
	return entry, err
}

// BulkUpdateFlowConfig validates every entry before applying any; one bad
// entry rejects the whole batch.
func (service *Service) BulkUpdateFlowConfig(ctx context.Context, entries []workflow.FlowConfigEntry) error {
	if len(entries) == 0 {
		return errors.New("bulk update: no entries")
	}
	for i := range entries {
		entries[i].Role = strings.TrimSpace(entries[i].Role)
		if err := entries[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
	}

	return service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		for i := range entries {
			if err := service.repo.UpsertFlowConfig(txCtx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetToDefault replaces the store's roles and flow entries with the
// canonical defaults in one transaction. A partial reset never survives.
func (service *Service) ResetToDefault(ctx context.Context, storeID int64) error {
	if storeID <= 0 {
		return errors.New("reset: store id is required")
	}

	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if err := service.repo.DeleteWorkflow(txCtx, storeID); err != nil {
			return err
		}
		if err := service.repo.InsertRoles(txCtx, workflow.DefaultRoles(storeID)); err != nil {
			return err
		}
		return service.repo.InsertFlowConfig(txCtx, workflow.DefaultFlowConfig(storeID))
	})
	if err != nil {
		return err
	}

	service.logger.Info(ctx, "workflow_reset", "flow configuration reset to defaults", map[string]any{"store_id": storeID})
	return nil
}

// ResolveAction answers "what may this role do at this status". A missing
// mapping yields the neutral default rather than an error so unknown or
// deleted roles never block the order flow.
func (service *Service) ResolveAction(ctx context.Context, storeID int64, role string, status orders.OrderStatus) (workflow.ResolvedAction, error) {
	resolved := workflow.NeutralAction()
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		entry, err := service.repo.FindFlowConfig(txCtx, storeID, role, status)
		if err != nil {
			return err
		}
		if entry != nil {
			resolved = workflow.ResolvedAction{Mode: entry.Mode, Enabled: entry.Enabled}
		}
		return nil
	})
	return resolved, err
}

// StatusesForRole returns the ordered list of statuses a role sees, with the
// action mode for each, driving the role-specific UI.
func (service *Service) StatusesForRole(ctx context.Context, storeID int64, role string) ([]workflow.FlowConfigEntry, error) {
	entries, err := service.ListFlowConfig(ctx, storeID)
	if err != nil {
		return nil, err
	}

	var out []workflow.FlowConfigEntry
	for _, e := range entries {
		if e.Role == role {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}
