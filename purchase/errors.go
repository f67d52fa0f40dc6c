package purchase

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced order doesn't exist.
	ErrNotFound = errors.New("purchase order not found")

	// ErrNoItems is returned when submitting an order with no line items.
	ErrNoItems = errors.New("purchase order requires at least one item")

	// ErrNoApprovalChain is returned when submitting an order without
	// configured approval steps.
	ErrNoApprovalChain = errors.New("purchase order has no approval steps")

	// ErrNotDraft is returned when submitting an order that isn't a draft.
	ErrNotDraft = errors.New("only draft orders can be submitted")

	// ErrNotRejected is returned when reopening an order that isn't rejected.
	ErrNotRejected = errors.New("only rejected orders can be reopened")

	// ErrNotSubmitted is returned when approving or rejecting a draft.
	ErrNotSubmitted = errors.New("purchase order not submitted for approval")

	// ErrApprovedImmutable is returned when deleting an approved order.
	// Deleting it would silently leave stale commitments in the ledger.
	ErrApprovedImmutable = errors.New("approved purchase orders cannot be deleted")

	// ErrAlreadyFinalized is returned by the store when the terminal
	// status check-and-set finds the order no longer pending. This makes
	// the approval side effect idempotent: a retried terminal transition
	// cannot commit the ledger twice.
	ErrAlreadyFinalized = errors.New("purchase order already finalized")
)

// ItemValidationError points at the offending line item so the caller
// can display a specific message.
type ItemValidationError struct {
	Index int
	Field string
	Msg   string
}

func (e *ItemValidationError) Error() string {
	return fmt.Sprintf("item %d: %s %s", e.Index, e.Field, e.Msg)
}
