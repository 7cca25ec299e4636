package workflow

// Role is a store-defined staff role. Names are free-form strings scoped to
// a store, not a closed enum; flow entries reference them loosely by name.
type Role struct {
	ID          int64
	StoreID     int64
	Name        string
	Description string
	Enabled     bool
	SortOrder   int
}
