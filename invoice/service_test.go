package invoice_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/invoice"
	"github.com/slateworks/prodledger/ledger"
	"github.com/slateworks/prodledger/purchase"
	"github.com/slateworks/prodledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*invoice.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return invoice.NewService(store), store
}

func seedSubAccount(t *testing.T, store *sqlite.Store, budget int64) ledger.SubAccountID {
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, ledger.Account{
		ID: "acc-1", ProjectID: "proj-1", Code: "03", Description: "Equipment",
	}))
	sa := ledger.SubAccount{
		ID:        "sa-1",
		AccountID: "acc-1",
		Code:      "02",
		Budgeted:  decimal.NewFromInt(budget),
		Committed: decimal.Zero,
		Actual:    decimal.Zero,
	}
	require.NoError(t, store.SaveSubAccount(ctx, sa))
	return sa.ID
}

func draftInvoice(saID ledger.SubAccountID, amount int64) *invoice.Invoice {
	chain, _ := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"controller"}},
	})
	return &invoice.Invoice{
		ProjectID: "proj-1",
		Currency:  "EUR",
		Items: []invoice.Item{{
			Description:  "Grip truck week 4",
			SubAccountID: saID,
			Quantity:     decimal.NewFromInt(1),
			UnitPrice:    decimal.NewFromInt(amount),
		}},
		Approval:  chain,
		CreatedBy: "coordinator",
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestService_Create_AssignsInvoiceNumber(t *testing.T) {
	svc, store := newTestService(t)
	saID := seedSubAccount(t, store, 1000)
	ctx := context.Background()

	inv := draftInvoice(saID, 400)
	require.NoError(t, svc.Create(ctx, inv))

	assert.NotEmpty(t, inv.ID)
	assert.True(t, strings.HasPrefix(inv.Number, "INV-"))
	assert.Equal(t, invoice.StatusDraft, inv.Status)
}

func TestService_ApprovalPostsActuals(t *testing.T) {
	// GIVEN: A subaccount budgeted 1000 and a submitted invoice for 400
	// WHEN: The approver approves
	// THEN: actual = 400, committed untouched

	svc, store := newTestService(t)
	saID := seedSubAccount(t, store, 1000)
	ctx := context.Background()

	inv := draftInvoice(saID, 400)
	require.NoError(t, svc.Create(ctx, inv))
	_, err := svc.Submit(ctx, inv.ID)
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, inv.ID, 0, "controller")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusApproved, approved.Status)

	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "400", sa.Actual.String())
	assert.True(t, sa.Committed.IsZero())
	assert.Equal(t, "600", sa.Available().String())
}

func TestService_OverBudgetInvoiceIsNotBlocked(t *testing.T) {
	// GIVEN: A subaccount budgeted 1000
	// WHEN: An invoice for 1200 goes through approval
	// THEN: The posting succeeds and available goes negative; overruns
	//       are a reporting concern, not a gate

	svc, store := newTestService(t)
	saID := seedSubAccount(t, store, 1000)
	ctx := context.Background()

	inv := draftInvoice(saID, 1200)
	require.NoError(t, svc.Create(ctx, inv))
	_, err := svc.Submit(ctx, inv.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, inv.ID, 0, "controller")
	require.NoError(t, err)

	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "1200", sa.Actual.String())
	assert.Equal(t, "-200", sa.Available().String())
}

func TestService_InvoiceMayReferencePurchaseOrder(t *testing.T) {
	// The reference is metadata for reconciliation. Nothing validates
	// amounts against the order.

	svc, store := newTestService(t)
	saID := seedSubAccount(t, store, 1000)
	ctx := context.Background()

	poID := purchase.ID("po-123")
	inv := draftInvoice(saID, 400)
	inv.PurchaseOrderID = &poID
	require.NoError(t, svc.Create(ctx, inv))

	got, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PurchaseOrderID)
	assert.Equal(t, poID, *got.PurchaseOrderID)
}

func TestService_RejectRequiresReason(t *testing.T) {
	svc, store := newTestService(t)
	saID := seedSubAccount(t, store, 1000)
	ctx := context.Background()

	inv := draftInvoice(saID, 400)
	require.NoError(t, svc.Create(ctx, inv))
	_, err := svc.Submit(ctx, inv.ID)
	require.NoError(t, err)

	_, err = svc.Reject(ctx, inv.ID, 0, "controller", "")
	assert.ErrorIs(t, err, approval.ErrReasonRequired)

	got, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, got.Status)
}

func TestService_DeleteApprovedInvoiceRefused(t *testing.T) {
	svc, store := newTestService(t)
	saID := seedSubAccount(t, store, 1000)
	ctx := context.Background()

	inv := draftInvoice(saID, 400)
	require.NoError(t, svc.Create(ctx, inv))
	_, err := svc.Submit(ctx, inv.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, inv.ID, 0, "controller")
	require.NoError(t, err)

	err = svc.Delete(ctx, inv.ID)
	assert.ErrorIs(t, err, invoice.ErrApprovedImmutable)
}
