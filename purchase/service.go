/*
service.go - Purchase-order lifecycle orchestration

PURPOSE:
  Drives draft -> pending -> approved/rejected and applies the ledger
  commitment exactly once on terminal approval. The approval chain
  decides WHEN money moves; the store decides HOW it moves atomically.

EXACTLY-ONCE COMMIT:
  Store.ApproveAndCommit spans, in one database transaction:
    (a) the status check-and-set pending -> approved
    (b) every per-item ledger commit
  If the check-and-set finds the order already finalized (a retried
  request, a concurrent approver), the whole transaction aborts with
  ErrAlreadyFinalized and no increment is applied. Partial application
  (status updated, some items committed) is never observable.

SEE ALSO:
  - types.go: document model and tax math
  - approval/chain.go: step evaluation rules
*/
package purchase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/ledger"
)

// =============================================================================
// STORE
// =============================================================================

// Store handles purchase-order persistence.
type Store interface {
	SavePurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, id ID) (*PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, projectID ledger.ProjectID) ([]PurchaseOrder, error)
	// DeletePurchaseOrder removes an order. Implementations refuse
	// approved orders with ErrApprovedImmutable.
	DeletePurchaseOrder(ctx context.Context, id ID) error

	// ApproveAndCommit persists the approved order and commits every
	// item's TotalAmount to its subaccount in a single transaction.
	// The status write is a check-and-set on pending; when the order is
	// no longer pending it returns ErrAlreadyFinalized and applies
	// nothing.
	ApproveAndCommit(ctx context.Context, po *PurchaseOrder) error

	// SavePurchaseOrderApproval persists mid-chain approval state with
	// the same check-and-set on pending. A concurrent finalization
	// wins: the stale progress write returns ErrAlreadyFinalized
	// instead of overwriting a terminal status.
	SavePurchaseOrderApproval(ctx context.Context, po *PurchaseOrder) error

	// RejectPurchaseOrder persists the rejected terminal state, again
	// as a check-and-set on pending. A reject racing a final approval
	// must lose: the approval already moved money, and overwriting its
	// status would let the order be reopened and committed twice.
	RejectPurchaseOrder(ctx context.Context, po *PurchaseOrder) error
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create saves a new draft order. Derived amounts are computed here;
// the approval chain may be configured now or before submission.
func (s *Service) Create(ctx context.Context, po *PurchaseOrder) error {
	if po.ID == "" {
		po.ID = ID(uuid.NewString())
	}
	if po.Number == "" {
		po.Number = fmt.Sprintf("PO-%s", strings.ToUpper(uuid.NewString()[:8]))
	}
	po.Status = StatusDraft
	po.Recalculate()
	now := time.Now().UTC()
	po.CreatedAt = now
	po.UpdatedAt = now
	return s.store.SavePurchaseOrder(ctx, po)
}

// Get loads one order.
func (s *Service) Get(ctx context.Context, id ID) (*PurchaseOrder, error) {
	return s.store.GetPurchaseOrder(ctx, id)
}

// List returns every order for the project.
func (s *Service) List(ctx context.Context, projectID ledger.ProjectID) ([]PurchaseOrder, error) {
	return s.store.ListPurchaseOrders(ctx, projectID)
}

// Update replaces a draft order's editable fields and recomputes every
// derived amount. Submitted orders are not editable.
func (s *Service) Update(ctx context.Context, po *PurchaseOrder) error {
	current, err := s.store.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		return err
	}
	if current.Status != StatusDraft {
		return ErrNotDraft
	}
	po.Status = StatusDraft
	po.Recalculate()
	po.CreatedBy = current.CreatedBy
	po.CreatedAt = current.CreatedAt
	po.UpdatedAt = time.Now().UTC()
	return s.store.SavePurchaseOrder(ctx, po)
}

// Submit moves a draft to pending. Requires at least one item, each
// with a description, a selected subaccount, quantity > 0 and unit
// price > 0. Submission always (re)initializes the chain at step 0.
func (s *Service) Submit(ctx context.Context, id ID) (*PurchaseOrder, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if po.Status != StatusDraft {
		return nil, ErrNotDraft
	}
	if err := validateItems(po.Items); err != nil {
		return nil, err
	}
	if po.Approval == nil || len(po.Approval.Steps) == 0 {
		return nil, ErrNoApprovalChain
	}

	po.Approval.Reset()
	po.Status = StatusPending
	po.ApprovedBy = nil
	po.RejectedBy = nil
	po.RejectionReason = nil
	po.Recalculate()
	po.UpdatedAt = time.Now().UTC()

	if err := s.store.SavePurchaseOrder(ctx, po); err != nil {
		return nil, err
	}
	return po, nil
}

// Approve registers an approval on the given step. When the chain
// reports full approval the ledger commitment is applied through the
// store's single-transaction path.
func (s *Service) Approve(ctx context.Context, id ID, stepIndex int, approver approval.UserID) (*PurchaseOrder, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requirePending(po); err != nil {
		return nil, err
	}

	outcome, err := po.Approval.Approve(stepIndex, approver)
	if err != nil {
		return nil, err
	}

	po.UpdatedAt = time.Now().UTC()
	if !outcome.DocumentApproved {
		if err := s.store.SavePurchaseOrderApproval(ctx, po); err != nil {
			return nil, err
		}
		return po, nil
	}

	po.Status = StatusApproved
	po.ApprovedBy = &approver
	if err := s.store.ApproveAndCommit(ctx, po); err != nil {
		return nil, err
	}
	return po, nil
}

// Reject kills a pending order. No ledger effect; reason required.
func (s *Service) Reject(ctx context.Context, id ID, stepIndex int, approver approval.UserID, reason string) (*PurchaseOrder, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requirePending(po); err != nil {
		return nil, err
	}

	if err := po.Approval.Reject(stepIndex, approver, reason); err != nil {
		return nil, err
	}

	po.Status = StatusRejected
	po.RejectedBy = &approver
	po.RejectionReason = &reason
	po.UpdatedAt = time.Now().UTC()

	if err := s.store.RejectPurchaseOrder(ctx, po); err != nil {
		return nil, err
	}
	return po, nil
}

// Reopen takes a rejected order back to draft. No partial-approval
// state is retained; the next submission restarts from step 0.
func (s *Service) Reopen(ctx context.Context, id ID) (*PurchaseOrder, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if po.Status != StatusRejected {
		return nil, ErrNotRejected
	}

	po.Approval.Reset()
	po.Status = StatusDraft
	po.ApprovedBy = nil
	po.RejectedBy = nil
	po.RejectionReason = nil
	po.UpdatedAt = time.Now().UTC()

	if err := s.store.SavePurchaseOrder(ctx, po); err != nil {
		return nil, err
	}
	return po, nil
}

// Delete removes an order. Approved orders are immutable: deleting one
// would silently leave stale commitments in the ledger.
func (s *Service) Delete(ctx context.Context, id ID) error {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return err
	}
	if po.Status == StatusApproved {
		return ErrApprovedImmutable
	}
	return s.store.DeletePurchaseOrder(ctx, id)
}

// =============================================================================
// VALIDATION
// =============================================================================

func requirePending(po *PurchaseOrder) error {
	switch po.Status {
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
