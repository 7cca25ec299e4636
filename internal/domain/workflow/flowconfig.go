package workflow

import (
	"fmt"
	"sort"

	"tableside/internal/domain/orders"
)

// ActionMode describes how a role interacts with orders at a given status.
type ActionMode string

const (
	// ModePerItem: the role confirms each line individually.
	ModePerItem ActionMode = "per_item"
	// ModePerOrder: one confirmation advances the whole order.
	ModePerOrder ActionMode = "per_order"
	// ModeSkip: the role is bypassed; the order advances without human action.
	ModeSkip ActionMode = "skip"
	// ModeIgnore: the role may view but not act.
	ModeIgnore ActionMode = "ignore"
)

// Valid reports whether m is one of the four known modes. Unknown modes are
// rejected at write time, never silently stored.
func (m ActionMode) Valid() bool {
	switch m {
	case ModePerItem, ModePerOrder, ModeSkip, ModeIgnore:
		return true
	}
	return false
}

// FlowConfigEntry maps (store, role, order status) to an action mode.
// Role is a loose reference: entries whose role was deleted stay inert.
type FlowConfigEntry struct {
	ID        int64
	StoreID   int64
	Role      string
	Status    orders.OrderStatus
	Mode      ActionMode
	Enabled   bool
	SortOrder int
}

// Validate checks the fields the configuration store enforces at write time.
func (e *FlowConfigEntry) Validate() error {
	if e.StoreID <= 0 {
		return fmt.Errorf("flow config entry: store id is required")
	}
	if e.Role == "" {
		return fmt.Errorf("flow config entry: role name is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("flow config entry: unknown order status %q", e.Status)
	}
	if !e.Mode.Valid() {
		return &InvalidActionModeError{Mode: string(e.Mode)}
	}
	return nil
}

// ResolvedAction is the resolver's answer for one (role, status) pair.
type ResolvedAction struct {
	Mode    ActionMode
	Enabled bool
}

// NeutralAction is returned when no mapping exists: the role simply has no
// UI affordance for that status. A missing mapping never blocks an order.
func NeutralAction() ResolvedAction {
	return ResolvedAction{Mode: ModeIgnore, Enabled: false}
}

// GroupByRole projects the flat entry list into per-role slices ordered by
// sort order. Pure projection for UI rendering, not a storage concept.
func GroupByRole(entries []FlowConfigEntry) map[string][]FlowConfigEntry {
	grouped := make(map[string][]FlowConfigEntry)
	for _, e := range entries {
		grouped[e.Role] = append(grouped[e.Role], e)
	}
	for role := range grouped {
		es := grouped[role]
		sort.SliceStable(es, func(i, j int) bool { return es[i].SortOrder < es[j].SortOrder })
	}
	return grouped
}

// DefaultRoles is the out-of-the-box role set seeded on store creation or
// explicit reset.
func DefaultRoles(storeID int64) []Role {
	return []Role{
		{StoreID: storeID, Name: "kitchen", Description: "Prepares order items", Enabled: true, SortOrder: 1},
		{StoreID: storeID, Name: "waiter", Description: "Delivers ready items to tables", Enabled: true, SortOrder: 2},
		{StoreID: storeID, Name: "cashier", Description: "Settles payment", Enabled: true, SortOrder: 3},
		{StoreID: storeID, Name: "manager", Description: "Read-only oversight of every stage", Enabled: true, SortOrder: 4},
	}
}

// DefaultFlowConfig is the canonical kitchen/waiter/cashier/manager workflow
// seeded together with DefaultRoles. Reset replaces both sets in one
// transaction; partial replacement is a consistency violation.
func DefaultFlowConfig(storeID int64) []FlowConfigEntry {
	entries := []FlowConfigEntry{
		{Role: "kitchen", Status: orders.StatusPending, Mode: ModePerItem, Enabled: true, SortOrder: 1},
		{Role: "kitchen", Status: orders.StatusPreparing, Mode: ModePerItem, Enabled: true, SortOrder: 2},
		{Role: "waiter", Status: orders.StatusReady, Mode: ModePerItem, Enabled: true, SortOrder: 1},
		{Role: "waiter", Status: orders.StatusServing, Mode: ModePerOrder, Enabled: true, SortOrder: 2},
		{Role: "cashier", Status: orders.StatusServing, Mode: ModeIgnore, Enabled: true, SortOrder: 1},
		{Role: "cashier", Status: orders.StatusCompleted, Mode: ModePerOrder, Enabled: true, SortOrder: 2},
	}
	for i, status := range orders.OrderStatuses() {
		entries = append(entries, FlowConfigEntry{
			Role: "manager", Status: status, Mode: ModeIgnore, Enabled: true, SortOrder: i + 1,
		})
	}
	for i := range entries {
		entries[i].StoreID = storeID
	}
	return entries
}
