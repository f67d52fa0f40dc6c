package invoice

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced invoice doesn't exist.
	ErrNotFound = errors.New("invoice not found")

	// ErrNoItems is returned when submitting an invoice with no line items.
	ErrNoItems = errors.New("invoice requires at least one item")

	// ErrNoApprovalChain is returned when submitting an invoice without
	// configured approval steps.
	ErrNoApprovalChain = errors.New("invoice has no approval steps")

	// ErrNotDraft is returned when submitting an invoice that isn't a draft.
	ErrNotDraft = errors.New("only draft invoices can be submitted")

	// ErrNotRejected is returned when reopening an invoice that isn't rejected.
	ErrNotRejected = errors.New("only rejected invoices can be reopened")

	// ErrNotSubmitted is returned when approving or rejecting a draft.
	ErrNotSubmitted = errors.New("invoice not submitted for approval")

	// ErrApprovedImmutable is returned when deleting an approved invoice.
	ErrApprovedImmutable = errors.New("approved invoices cannot be deleted")

	// ErrAlreadyFinalized is returned by the store when the terminal
	// status check-and-set finds the invoice no longer pending.
	ErrAlreadyFinalized = errors.New("invoice already finalized")
)

// ItemValidationError points at the offending line item.
type ItemValidationError struct {
	Index int
	Field string
	Msg   string
}

func (e *ItemValidationError) Error() string {
	return fmt.Sprintf("item %d: %s %s", e.Index, e.Field, e.Msg)
}
