package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/invoice"
	"github.com/slateworks/prodledger/ledger"
	"github.com/slateworks/prodledger/purchase"
	"github.com/slateworks/prodledger/store/sqlite"
	"github.com/slateworks/prodledger/supplier"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedLedger(t *testing.T, store *sqlite.Store) ledger.SubAccountID {
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, ledger.Account{
		ID: "acc-1", ProjectID: "proj-1", Code: "02", Description: "Crew",
	}))
	require.NoError(t, store.SaveSubAccount(ctx, ledger.SubAccount{
		ID: "sa-1", AccountID: "acc-1", Code: "01",
		Budgeted:  decimal.NewFromInt(10000),
		Committed: decimal.Zero,
		Actual:    decimal.Zero,
	}))
	return "sa-1"
}

func pendingOrder(saID ledger.SubAccountID, amount int64) *purchase.PurchaseOrder {
	chain, _ := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"controller"}},
	})
	now := time.Now().UTC()
	po := &purchase.PurchaseOrder{
		ID:        "po-1",
		ProjectID: "proj-1",
		Number:    "PO-TEST",
		Status:    purchase.StatusPending,
		Items: []purchase.Item{{
			Description:  "Lens rental",
			SubAccountID: saID,
			Quantity:     decimal.NewFromInt(1),
			UnitPrice:    decimal.NewFromInt(amount),
		}},
		Approval:  chain,
		CreatedBy: "coordinator",
		CreatedAt: now,
		UpdatedAt: now,
	}
	po.Recalculate()
	return po
}

func pendingInvoice(saID ledger.SubAccountID, amount int64) *invoice.Invoice {
	chain, _ := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"controller"}},
	})
	now := time.Now().UTC()
	inv := &invoice.Invoice{
		ID:        "inv-1",
		ProjectID: "proj-1",
		Number:    "INV-TEST",
		Status:    invoice.StatusPending,
		Items: []invoice.Item{{
			Description:  "Grip truck",
			SubAccountID: saID,
			Quantity:     decimal.NewFromInt(1),
			UnitPrice:    decimal.NewFromInt(amount),
		}},
		Approval:  chain,
		CreatedBy: "coordinator",
		CreatedAt: now,
		UpdatedAt: now,
	}
	inv.Recalculate()
	return inv
}

// =============================================================================
// ATOMIC INCREMENTS
// =============================================================================

func TestStore_ConcurrentCommitsLoseNoUpdate(t *testing.T) {
	// GIVEN: One subaccount and 20 concurrent commits of 10 each
	// WHEN: All goroutines finish
	// THEN: committed is exactly 200; no increment was lost

	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Commit(ctx, saID, decimal.NewFromInt(10)))
		}()
	}
	wg.Wait()

	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "200", sa.Committed.String())
}

func TestStore_CommitUnknownSubAccount(t *testing.T) {
	store := newTestStore(t)

	err := store.Commit(context.Background(), "ghost", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ledger.ErrSubAccountNotFound)
}

func TestStore_PostActualAccumulates(t *testing.T) {
	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	require.NoError(t, store.PostActual(ctx, saID, decimal.NewFromFloat(99.95)))
	require.NoError(t, store.PostActual(ctx, saID, decimal.NewFromFloat(0.05)))

	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "100", sa.Actual.String())
}

// =============================================================================
// EXACTLY-ONCE FINALIZATION
// =============================================================================

func TestStore_ApproveAndCommit_AppliesOnce(t *testing.T) {
	// GIVEN: A pending order persisted with a 500 item
	// WHEN: ApproveAndCommit runs twice (a retried request)
	// THEN: The second call fails with ErrAlreadyFinalized and the
	//       commitment is applied exactly once

	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	po := pendingOrder(saID, 500)
	require.NoError(t, store.SavePurchaseOrder(ctx, po))

	approver := approval.UserID("controller")
	po.Status = purchase.StatusApproved
	po.ApprovedBy = &approver

	require.NoError(t, store.ApproveAndCommit(ctx, po))
	err := store.ApproveAndCommit(ctx, po)
	assert.ErrorIs(t, err, purchase.ErrAlreadyFinalized)

	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "500", sa.Committed.String())
}

func TestStore_ApprovePostActuals_AppliesOnce(t *testing.T) {
	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	chain, _ := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"controller"}},
	})
	now := time.Now().UTC()
	inv := &invoice.Invoice{
		ID:        "inv-1",
		ProjectID: "proj-1",
		Number:    "INV-TEST",
		Status:    invoice.StatusPending,
		Items: []invoice.Item{{
			Description:  "Grip truck",
			SubAccountID: saID,
			Quantity:     decimal.NewFromInt(1),
			UnitPrice:    decimal.NewFromInt(300),
		}},
		Approval:  chain,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inv.Recalculate()
	require.NoError(t, store.SaveInvoice(ctx, inv))

	approver := approval.UserID("controller")
	inv.Status = invoice.StatusApproved
	inv.ApprovedBy = &approver

	require.NoError(t, store.ApprovePostActuals(ctx, inv))
	err := store.ApprovePostActuals(ctx, inv)
	assert.ErrorIs(t, err, invoice.ErrAlreadyFinalized)

	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "300", sa.Actual.String())
}

func TestStore_ApproveAndCommit_RoundTripsChainState(t *testing.T) {
	// The persisted approval chain must reflect the approval, not the
	// pre-approval snapshot.

	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	po := pendingOrder(saID, 500)
	require.NoError(t, store.SavePurchaseOrder(ctx, po))

	_, err := po.Approval.Approve(0, "controller")
	require.NoError(t, err)
	approver := approval.UserID("controller")
	po.Status = purchase.StatusApproved
	po.ApprovedBy = &approver
	require.NoError(t, store.ApproveAndCommit(ctx, po))

	got, err := store.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusApproved, got.Status)
	assert.Equal(t, approval.StateApproved, got.Approval.State)
	assert.Equal(t, []approval.UserID{"controller"}, got.Approval.Steps[0].ApprovedBy)
	require.NotNil(t, got.ApprovedBy)
	assert.Equal(t, approver, *got.ApprovedBy)
}

// =============================================================================
// FINALIZATION RACES
// =============================================================================

func TestStore_RejectPurchaseOrder_RefusedAfterApproval(t *testing.T) {
	// GIVEN: An order finalized by ApproveAndCommit (committed is 500)
	// WHEN: A reject computed from a stale pending read tries to land
	// THEN: ErrAlreadyFinalized; the status stays approved, so the order
	//       cannot be reopened, resubmitted and committed a second time

	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	po := pendingOrder(saID, 500)
	require.NoError(t, store.SavePurchaseOrder(ctx, po))

	approver := approval.UserID("controller")
	po.Status = purchase.StatusApproved
	po.ApprovedBy = &approver
	require.NoError(t, store.ApproveAndCommit(ctx, po))

	stale := pendingOrder(saID, 500)
	rejector := approval.UserID("controller")
	reason := "duplicate order"
	stale.Status = purchase.StatusRejected
	stale.RejectedBy = &rejector
	stale.RejectionReason = &reason

	err := store.RejectPurchaseOrder(ctx, stale)
	assert.ErrorIs(t, err, purchase.ErrAlreadyFinalized)

	got, err := store.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusApproved, got.Status)
	assert.Nil(t, got.RejectedBy)

	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "500", sa.Committed.String())
}

func TestStore_RejectPurchaseOrder_PendingOrderRejects(t *testing.T) {
	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	po := pendingOrder(saID, 500)
	require.NoError(t, store.SavePurchaseOrder(ctx, po))

	rejector := approval.UserID("controller")
	reason := "quote is stale"
	require.NoError(t, po.Approval.Reject(0, rejector, reason))
	po.Status = purchase.StatusRejected
	po.RejectedBy = &rejector
	po.RejectionReason = &reason

	require.NoError(t, store.RejectPurchaseOrder(ctx, po))

	got, err := store.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, reason, *got.RejectionReason)

	// No ledger effect on rejection.
	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "0", sa.Committed.String())
}

func TestStore_SavePurchaseOrderApproval_RefusedAfterFinalization(t *testing.T) {
	// A stale mid-chain progress write must not resurrect chain state on
	// an order that was finalized concurrently.

	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	po := pendingOrder(saID, 500)
	require.NoError(t, store.SavePurchaseOrder(ctx, po))

	approver := approval.UserID("controller")
	po.Status = purchase.StatusApproved
	po.ApprovedBy = &approver
	require.NoError(t, store.ApproveAndCommit(ctx, po))

	stale := pendingOrder(saID, 500)
	err := store.SavePurchaseOrderApproval(ctx, stale)
	assert.ErrorIs(t, err, purchase.ErrAlreadyFinalized)
}

func TestStore_RejectInvoice_RefusedAfterApproval(t *testing.T) {
	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	inv := pendingInvoice(saID, 300)
	require.NoError(t, store.SaveInvoice(ctx, inv))

	approver := approval.UserID("controller")
	inv.Status = invoice.StatusApproved
	inv.ApprovedBy = &approver
	require.NoError(t, store.ApprovePostActuals(ctx, inv))

	stale := pendingInvoice(saID, 300)
	rejector := approval.UserID("controller")
	reason := "amount mismatch"
	stale.Status = invoice.StatusRejected
	stale.RejectedBy = &rejector
	stale.RejectionReason = &reason

	err := store.RejectInvoice(ctx, stale)
	assert.ErrorIs(t, err, invoice.ErrAlreadyFinalized)

	got, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusApproved, got.Status)

	sa, err := store.GetSubAccount(ctx, saID)
	require.NoError(t, err)
	assert.Equal(t, "300", sa.Actual.String())
}

// =============================================================================
// STORED AMOUNT INTEGRITY
// =============================================================================

func TestStore_CorruptStoredAmountSurfacesError(t *testing.T) {
	// GIVEN: A subaccount whose committed column was mangled outside the
	//        store
	// WHEN: Reading or incrementing it
	// THEN: An error, not a silent zero that would erase the running
	//       total on the next read-modify-write

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	saID := seedLedger(t, store)
	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, saID, decimal.NewFromInt(100)))

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec("UPDATE subaccounts SET committed = 'not-a-number' WHERE id = ?", string(saID))
	require.NoError(t, err)

	_, err = store.GetSubAccount(ctx, saID)
	assert.ErrorContains(t, err, "not-a-number")

	err = store.Commit(ctx, saID, decimal.NewFromInt(50))
	assert.ErrorContains(t, err, "not-a-number")
}

// =============================================================================
// DELETION GUARDS
// =============================================================================

func TestStore_DeleteAccountWithSubAccountsRefused(t *testing.T) {
	store := newTestStore(t)
	seedLedger(t, store)
	ctx := context.Background()

	err := store.DeleteAccount(ctx, "acc-1")
	assert.ErrorIs(t, err, ledger.ErrAccountHasSubAccounts)

	require.NoError(t, store.DeleteSubAccount(ctx, "sa-1"))
	assert.NoError(t, store.DeleteAccount(ctx, "acc-1"))
}

func TestStore_DeleteSubAccountWithMoneyRefused(t *testing.T) {
	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, saID, decimal.NewFromInt(100)))

	err := store.DeleteSubAccount(ctx, saID)
	assert.ErrorIs(t, err, ledger.ErrSubAccountInUse)
}

func TestStore_DuplicateAccountCodeRefused(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, ledger.Account{
		ID: "acc-1", ProjectID: "proj-1", Code: "02",
	}))
	err := store.SaveAccount(ctx, ledger.Account{
		ID: "acc-2", ProjectID: "proj-1", Code: "02",
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateCode)

	// Same code in another project is fine.
	assert.NoError(t, store.SaveAccount(ctx, ledger.Account{
		ID: "acc-3", ProjectID: "proj-2", Code: "02",
	}))
}

func TestStore_DeleteReferencedSupplierRefused(t *testing.T) {
	// GIVEN: A supplier referenced by a purchase order
	// WHEN: Deleting the supplier
	// THEN: Refused until the document goes away

	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	require.NoError(t, store.SaveSupplier(ctx, supplier.Supplier{
		ID: "sup-1", ProjectID: "proj-1", Name: "Panavision",
	}))

	po := pendingOrder(saID, 500)
	po.SupplierID = "sup-1"
	require.NoError(t, store.SavePurchaseOrder(ctx, po))

	err := store.DeleteSupplier(ctx, "sup-1")
	assert.ErrorIs(t, err, supplier.ErrInUse)

	require.NoError(t, store.DeletePurchaseOrder(ctx, po.ID))
	assert.NoError(t, store.DeleteSupplier(ctx, "sup-1"))
}

func TestStore_DeleteApprovedOrderRefused(t *testing.T) {
	store := newTestStore(t)
	saID := seedLedger(t, store)
	ctx := context.Background()

	po := pendingOrder(saID, 500)
	require.NoError(t, store.SavePurchaseOrder(ctx, po))
	approver := approval.UserID("controller")
	po.ApprovedBy = &approver
	require.NoError(t, store.ApproveAndCommit(ctx, po))

	err := store.DeletePurchaseOrder(ctx, po.ID)
	assert.ErrorIs(t, err, purchase.ErrApprovedImmutable)
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_SupplierRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expiry := time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC)
	sp := supplier.Supplier{
		ID:                "sup-1",
		ProjectID:         "proj-1",
		Name:              "Panavision",
		TaxID:             "B12345678",
		CertificateURL:    "https://files.example/cert.pdf",
		CertificateExpiry: &expiry,
	}
	require.NoError(t, store.SaveSupplier(ctx, sp))

	got, err := store.GetSupplier(ctx, "sup-1")
	require.NoError(t, err)
	assert.Equal(t, sp.Name, got.Name)
	assert.Equal(t, sp.TaxID, got.TaxID)
	require.NotNil(t, got.CertificateExpiry)
	assert.True(t, expiry.Equal(*got.CertificateExpiry))
}

func TestStore_ListSubAccountsByProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, ledger.Account{ID: "acc-1", ProjectID: "proj-1", Code: "02"}))
	require.NoError(t, store.SaveAccount(ctx, ledger.Account{ID: "acc-2", ProjectID: "proj-1", Code: "03"}))
	require.NoError(t, store.SaveAccount(ctx, ledger.Account{ID: "acc-other", ProjectID: "proj-2", Code: "02"}))

	for _, sa := range []ledger.SubAccount{
		{ID: "sa-1", AccountID: "acc-1", Code: "01", Budgeted: decimal.NewFromInt(100)},
		{ID: "sa-2", AccountID: "acc-2", Code: "01", Budgeted: decimal.NewFromInt(200)},
		{ID: "sa-x", AccountID: "acc-other", Code: "01", Budgeted: decimal.NewFromInt(999)},
	} {
		sa.Committed = decimal.Zero
		sa.Actual = decimal.Zero
		require.NoError(t, store.SaveSubAccount(ctx, sa))
	}

	subs, err := store.ListSubAccountsByProject(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, ledger.SubAccountID("sa-1"), subs[0].ID)
	assert.Equal(t, ledger.SubAccountID("sa-2"), subs[1].ID)
}
