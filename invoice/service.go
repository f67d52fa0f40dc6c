// service.go - Invoice lifecycle orchestration.
//
// Mirrors purchase/service.go with the ledger effect posting to ACTUAL
// instead of committed. Store.ApprovePostActuals spans the status
// check-and-set and every per-item posting in one transaction, so a
// retried terminal transition cannot post twice.
package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/ledger"
)

// Store handles invoice persistence.
type Store interface {
	SaveInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id ID) (*Invoice, error)
	ListInvoices(ctx context.Context, projectID ledger.ProjectID) ([]Invoice, error)
	// DeleteInvoice removes an invoice. Implementations refuse approved
	// invoices with ErrApprovedImmutable.
	DeleteInvoice(ctx context.Context, id ID) error

	// ApprovePostActuals persists the approved invoice and posts every
	// item's TotalAmount to its subaccount's actual figure in a single
	// transaction, with a check-and-set on pending status.
	ApprovePostActuals(ctx context.Context, inv *Invoice) error

	// SaveInvoiceApproval persists mid-chain approval state with the
	// same check-and-set on pending; returns ErrAlreadyFinalized when
	// a concurrent finalization won.
	SaveInvoiceApproval(ctx context.Context, inv *Invoice) error

	// RejectInvoice persists the rejected terminal state as a
	// check-and-set on pending, so a reject racing a final approval
	// cannot overwrite the approved status after actuals were posted.
	RejectInvoice(ctx context.Context, inv *Invoice) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create saves a new draft invoice.
func (s *Service) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = ID(uuid.NewString())
	}
	if inv.Number == "" {
		inv.Number = fmt.Sprintf("INV-%s", strings.ToUpper(uuid.NewString()[:8]))
	}
	inv.Status = StatusDraft
	inv.Recalculate()
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return s.store.SaveInvoice(ctx, inv)
}

// Get loads one invoice.
func (s *Service) Get(ctx context.Context, id ID) (*Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// List returns every invoice for the project.
func (s *Service) List(ctx context.Context, projectID ledger.ProjectID) ([]Invoice, error) {
	return s.store.ListInvoices(ctx, projectID)
}

// Update replaces a draft invoice's editable fields and recomputes
// every derived amount. Submitted invoices are not editable.
func (s *Service) Update(ctx context.Context, inv *Invoice) error {
	current, err := s.store.GetInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}
	if current.Status != StatusDraft {
		return ErrNotDraft
	}
	inv.Status = StatusDraft
	inv.Recalculate()
	inv.CreatedBy = current.CreatedBy
	inv.CreatedAt = current.CreatedAt
	inv.UpdatedAt = time.Now().UTC()
	return s.store.SaveInvoice(ctx, inv)
}

// Submit moves a draft to pending with the same item validation rules
// as purchase orders. Note: NO budget pre-check, by design.
func (s *Service) Submit(ctx context.Context, id ID) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft {
		return nil, ErrNotDraft
	}
	if err := validateItems(inv.Items); err != nil {
		return nil, err
	}
	if inv.Approval == nil || len(inv.Approval.Steps) == 0 {
		return nil, ErrNoApprovalChain
	}

	inv.Approval.Reset()
	inv.Status = StatusPending
	inv.ApprovedBy = nil
	inv.RejectedBy = nil
	inv.RejectionReason = nil
	inv.Recalculate()
	inv.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Approve registers an approval; on full approval the actuals are
// posted through the store's single-transaction path.
func (s *Service) Approve(ctx context.Context, id ID, stepIndex int, approver approval.UserID) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requirePending(inv); err != nil {
		return nil, err
	}

	outcome, err := inv.Approval.Approve(stepIndex, approver)
	if err != nil {
		return nil, err
	}

	inv.UpdatedAt = time.Now().UTC()
	if !outcome.DocumentApproved {
		if err := s.store.SaveInvoiceApproval(ctx, inv); err != nil {
			return nil, err
		}
		return inv, nil
	}

	inv.Status = StatusApproved
	inv.ApprovedBy = &approver
	if err := s.store.ApprovePostActuals(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Reject kills a pending invoice. No ledger effect; reason required.
func (s *Service) Reject(ctx context.Context, id ID, stepIndex int, approver approval.UserID, reason string) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requirePending(inv); err != nil {
		return nil, err
	}

	if err := inv.Approval.Reject(stepIndex, approver, reason); err != nil {
		return nil, err
	}

	inv.Status = StatusRejected
	inv.RejectedBy = &approver
	inv.RejectionReason = &reason
	inv.UpdatedAt = time.Now().UTC()

	if err := s.store.RejectInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Reopen takes a rejected invoice back to draft, clearing the chain.
func (s *Service) Reopen(ctx context.Context, id ID) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusRejected {
		return nil, ErrNotRejected
	}

	inv.Approval.Reset()
	inv.Status = StatusDraft
	inv.ApprovedBy = nil
	inv.RejectedBy = nil
	inv.RejectionReason = nil
	inv.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Delete removes an invoice; approved invoices are immutable.
func (s *Service) Delete(ctx context.Context, id ID) error {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status == StatusApproved {
		return ErrApprovedImmutable
	}
	return s.store.DeleteInvoice(ctx, id)
}

func requirePending(inv *Invoice) error {
	switch inv.Status {
	case StatusPending:
		return nil
	case StatusApproved:
		return &approval.TerminalStateError{State: approval.StateApproved}
	case StatusRejected:
		return &approval.TerminalStateError{State: approval.StateRejected}
	default:
		return ErrNotSubmitted
	}
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	for i, it := range items {
		if strings.TrimSpace(it.Description) == "" {
			return &ItemValidationError{Index: i, Field: "description", Msg: "is required"}
		}
		if it.SubAccountID == "" {
			return &ItemValidationError{Index: i, Field: "subAccountId", Msg: "is required"}
		}
		if !it.Quantity.IsPositive() {
			return &ItemValidationError{Index: i, Field: "quantity", Msg: "must be greater than zero"}
		}
		if !it.UnitPrice.IsPositive() {
			return &ItemValidationError{Index: i, Field: "unitPrice", Msg: "must be greater than zero"}
		}
	}
	return nil
}
