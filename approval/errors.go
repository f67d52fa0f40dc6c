package approval

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSteps is returned when building a chain with no steps.
	ErrNoSteps = errors.New("approval chain requires at least one step")

	// ErrNoApprovers is returned when a step has an empty approver set.
	ErrNoApprovers = errors.New("approval step requires at least one approver")

	// ErrNotApprover is returned when the actor is not in the step's
	// approver set. This is a hard failure, never a silent no-op.
	ErrNotApprover = errors.New("user is not an approver for this step")

	// ErrStepClosed is returned when operating on a step the chain has
	// already moved past.
	ErrStepClosed = errors.New("approval step already closed")

	// ErrStepNotReached is returned when approving a step ahead of the
	// current one. Steps advance strictly in order.
	ErrStepNotReached = errors.New("approval step not reached yet")

	// ErrStepOutOfRange is returned for a step index outside the chain.
	ErrStepOutOfRange = errors.New("approval step index out of range")

	// ErrReasonRequired is returned when rejecting without a reason.
	ErrReasonRequired = errors.New("rejection reason is required")
)

// TerminalStateError is returned when acting on an already approved or
// rejected chain. Reopening requires an explicit resubmission.
type TerminalStateError struct {
	State State
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("document is in terminal state %q", e.State)
}
