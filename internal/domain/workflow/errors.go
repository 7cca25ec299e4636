package workflow

import "fmt"

// InvalidActionModeError rejects writes carrying a mode outside the four
// known values.
type InvalidActionModeError struct {
	Mode string
}

func (e *InvalidActionModeError) Error() string {
	return fmt.Sprintf("invalid action mode %q (want per_item, per_order, skip, or ignore)", e.Mode)
}
