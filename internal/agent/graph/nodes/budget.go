package nodes

import (
	"errors"
	"fmt"
)

// DefaultRecursionLimit is the step budget of one agent run.
const DefaultRecursionLimit = 32

var (
	// ErrRecursionLimit is returned when a run needs more steps than its budget.
	ErrRecursionLimit = errors.New("recursion limit reached")
	// ErrInvalidTransition is returned when a node emits an event its transition table does not handle.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Budget counts the steps of a run. The last Reserve steps are kept for
// the fixed tail of the machine, so IsLastStep turns true early enough for
// the run to finish cleanly.
type Budget struct {
	limit   int
	reserve int
	used    int
}

// NewBudget returns a budget of limit steps; a non-positive limit means
// DefaultRecursionLimit.
func NewBudget(limit, reserve int) *Budget {
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	if reserve < 0 {
		reserve = 0
	}
	return &Budget{limit: limit, reserve: reserve}
}

// Step charges one step.
func (b *Budget) Step() error {
	if b.used >= b.limit {
		return fmt.Errorf("%w: %d steps", ErrRecursionLimit, b.limit)
	}
	b.used++
	return nil
}

// Used returns the number of steps charged so far.
func (b *Budget) Used() int { return b.used }

// Remaining returns how many steps may still be charged.
func (b *Budget) Remaining() int { return b.limit - b.used }

// Limit returns the total budget.
func (b *Budget) Limit() int { return b.limit }

// IsLastStep reports whether the current step is the last one that may
// start more work.
func (b *Budget) IsLastStep() bool {
	return b.used >= b.limit-b.reserve
}
