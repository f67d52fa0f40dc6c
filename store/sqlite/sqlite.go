/*
Package sqlite provides the SQLite-backed implementation of every
storage interface in the system.

INTERFACES IMPLEMENTED:
  ledger.Store:   accounts, subaccounts, atomic Commit/PostActual
  supplier.Store: suppliers with referential delete guard
  purchase.Store: purchase orders, ApproveAndCommit
  invoice.Store:  invoices, ApprovePostActuals

ATOMICITY:
  The two operations that move money are transactional read-modify-
  writes: the SELECT and the UPDATE of a subaccount figure happen
  inside one database transaction, under the store mutex and SQLite's
  single-writer lock. Two concurrent approvals incrementing the same
  subaccount cannot lose an update.

  ApproveAndCommit / ApprovePostActuals additionally span the document
  status write and every per-item increment in the SAME transaction,
  with a check-and-set on the status column:

      UPDATE purchase_orders SET status='approved', ...
      WHERE id = ? AND status = 'pending'

  Zero rows affected means the document was already finalized - the
  transaction aborts and no increment is applied. This is what makes
  the terminal transition idempotent under retried requests.

DELETION GUARDS (in SQL, not convention):
  - accounts with subaccounts
  - subaccounts with nonzero committed/actual
  - suppliers referenced by any document
  - approved documents

WAL MODE:
  Opened with WAL and foreign keys on. In production with PostgreSQL
  the same patterns apply with row locks instead of the store mutex.

USAGE:
  store, err := sqlite.New("./data/prodledger.db")
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/invoice"
	"github.com/slateworks/prodledger/ledger"
	"github.com/slateworks/prodledger/purchase"
	"github.com/slateworks/prodledger/supplier"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a distinct database; keep the
	// pool at one connection so the schema survives.
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		code TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(project_id, code)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_project
		ON accounts(project_id);

	CREATE TABLE IF NOT EXISTS subaccounts (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		code TEXT NOT NULL,
		description TEXT,
		budgeted TEXT NOT NULL,
		committed TEXT NOT NULL,
		actual TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subaccounts_account
		ON subaccounts(account_id);

	CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		tax_id TEXT,
		certificate_url TEXT,
		certificate_expiry TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_suppliers_project
		ON suppliers(project_id);

	CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		number TEXT NOT NULL,
		supplier_id TEXT,
		department TEXT,
		po_type TEXT,
		currency TEXT,
		status TEXT NOT NULL,
		items_json TEXT NOT NULL,
		approval_json TEXT,
		created_by TEXT,
		approved_by TEXT,
		rejected_by TEXT,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchase_orders_project
		ON purchase_orders(project_id);
	CREATE INDEX IF NOT EXISTS idx_purchase_orders_status
		ON purchase_orders(status);
	CREATE INDEX IF NOT EXISTS idx_purchase_orders_supplier
		ON purchase_orders(supplier_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		number TEXT NOT NULL,
		supplier_id TEXT,
		currency TEXT,
		purchase_order_id TEXT,
		status TEXT NOT NULL,
		items_json TEXT NOT NULL,
		approval_json TEXT,
		created_by TEXT,
		approved_by TEXT,
		rejected_by TEXT,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_project
		ON invoices(project_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status
		ON invoices(status);
	CREATE INDEX IF NOT EXISTS idx_invoices_supplier
		ON invoices(supplier_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNTS (ledger.Store)
// =============================================================================

// SaveAccount inserts or updates an account.
func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, project_id, code, description, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			description = excluded.description
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.ProjectID, a.Code, a.Description,
		time.Now().UTC().Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return ledger.ErrDuplicateCode
	}
	return err
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a ledger.Account
	err := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, code, description FROM accounts WHERE id = ?", id,
	).Scan(&a.ID, &a.ProjectID, &a.Code, &a.Description)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns all accounts of a project ordered by code.
func (s *Store) ListAccounts(ctx context.Context, projectID ledger.ProjectID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, code, description FROM accounts WHERE project_id = ? ORDER BY code",
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Code, &a.Description); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account only when it owns zero subaccounts.
func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM subaccounts WHERE account_id = ?", id,
	).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ledger.ErrAccountHasSubAccounts
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// SUBACCOUNTS (ledger.Store)
// =============================================================================

// SaveSubAccount inserts or updates a subaccount. Committed and actual
// are only written on insert; after that they move exclusively through
// Commit/PostActual.
func (s *Store) SaveSubAccount(ctx context.Context, sa ledger.SubAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO subaccounts (id, account_id, code, description, budgeted, committed, actual, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			description = excluded.description,
			budgeted = excluded.budgeted
	`

	_, err := s.db.ExecContext(ctx, query,
		sa.ID, sa.AccountID, sa.Code, sa.Description,
		sa.Budgeted.String(), sa.Committed.String(), sa.Actual.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetSubAccount retrieves a subaccount by ID.
func (s *Store) GetSubAccount(ctx context.Context, id ledger.SubAccountID) (*ledger.SubAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanSubAccountRow(s.db.QueryRowContext(ctx,
		"SELECT id, account_id, code, description, budgeted, committed, actual FROM subaccounts WHERE id = ?",
		id,
	))
}

// ListSubAccounts returns an account's subaccounts ordered by code.
func (s *Store) ListSubAccounts(ctx context.Context, accountID ledger.AccountID) ([]ledger.SubAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, code, description, budgeted, committed, actual
		FROM subaccounts
		WHERE account_id = ?
		ORDER BY code
	`
	return s.querySubAccounts(ctx, query, accountID)
}

// ListSubAccountsByProject returns every subaccount under a project's
// accounts, ordered by account then subaccount code.
func (s *Store) ListSubAccountsByProject(ctx context.Context, projectID ledger.ProjectID) ([]ledger.SubAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT sa.id, sa.account_id, sa.code, sa.description, sa.budgeted, sa.committed, sa.actual
		FROM subaccounts sa
		JOIN accounts a ON a.id = sa.account_id
		WHERE a.project_id = ?
		ORDER BY a.code, sa.code
	`
	return s.querySubAccounts(ctx, query, projectID)
}

// DeleteSubAccount removes a subaccount unless money is in flight.
func (s *Store) DeleteSubAccount(ctx context.Context, id ledger.SubAccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sa, err := scanSubAccountRow(s.db.QueryRowContext(ctx,
		"SELECT id, account_id, code, description, budgeted, committed, actual FROM subaccounts WHERE id = ?",
		id,
	))
	if err != nil {
		return err
	}
	if !sa.Committed.IsZero() || !sa.Actual.IsZero() {
		return ledger.ErrSubAccountInUse
	}

	_, err = s.db.ExecContext(ctx, "DELETE FROM subaccounts WHERE id = ?", id)
	return err
}

func (s *Store) querySubAccounts(ctx context.Context, query string, args ...any) ([]ledger.SubAccount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []ledger.SubAccount
	for rows.Next() {
		var sa ledger.SubAccount
		var budgeted, committed, actual string
		if err := rows.Scan(&sa.ID, &sa.AccountID, &sa.Code, &sa.Description,
			&budgeted, &committed, &actual); err != nil {
			return nil, err
		}
		if err := setAmounts(&sa, budgeted, committed, actual); err != nil {
			return nil, err
		}
		subs = append(subs, sa)
	}
	return subs, rows.Err()
}

func scanSubAccountRow(row *sql.Row) (*ledger.SubAccount, error) {
	var sa ledger.SubAccount
	var budgeted, committed, actual string
	err := row.Scan(&sa.ID, &sa.AccountID, &sa.Code, &sa.Description,
		&budgeted, &committed, &actual)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrSubAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := setAmounts(&sa, budgeted, committed, actual); err != nil {
		return nil, err
	}
	return &sa, nil
}

func setAmounts(sa *ledger.SubAccount, budgeted, committed, actual string) error {
	var err error
	if sa.Budgeted, err = parseDecimal(budgeted); err != nil {
		return fmt.Errorf("subaccount %s budgeted: %w", sa.ID, err)
	}
	if sa.Committed, err = parseDecimal(committed); err != nil {
		return fmt.Errorf("subaccount %s committed: %w", sa.ID, err)
	}
	if sa.Actual, err = parseDecimal(actual); err != nil {
		return fmt.Errorf("subaccount %s actual: %w", sa.ID, err)
	}
	return nil
}

// =============================================================================
// ATOMIC INCREMENTS (ledger.Store)
// =============================================================================

// Commit atomically increments a subaccount's committed figure.
func (s *Store) Commit(ctx context.Context, id ledger.SubAccountID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := incrementTx(ctx, tx, "committed", id, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// PostActual atomically increments a subaccount's actual figure.
func (s *Store) PostActual(ctx context.Context, id ledger.SubAccountID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := incrementTx(ctx, tx, "actual", id, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// incrementTx performs the read-modify-write of one money column inside
// the caller's transaction. The column name is fixed by the callers.
func incrementTx(ctx context.Context, tx *sql.Tx, column string, id ledger.SubAccountID, amount decimal.Decimal) error {
	if column != "committed" && column != "actual" {
		return fmt.Errorf("unknown ledger column %q", column)
	}

	var current string
	err := tx.QueryRowContext(ctx,
		"SELECT "+column+" FROM subaccounts WHERE id = ?", id,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrSubAccountNotFound
	}
	if err != nil {
		return err
	}

	cur, err := parseDecimal(current)
	if err != nil {
		return fmt.Errorf("subaccount %s %s: %w", id, column, err)
	}

	next := cur.Add(amount)
	_, err = tx.ExecContext(ctx,
		"UPDATE subaccounts SET "+column+" = ? WHERE id = ?",
		next.String(), id,
	)
	return err
}

// =============================================================================
// SUPPLIERS (supplier.Store)
// =============================================================================

// SaveSupplier inserts or updates a supplier.
func (s *Store) SaveSupplier(ctx context.Context, sp supplier.Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiry *string
	if sp.CertificateExpiry != nil {
		e := sp.CertificateExpiry.Format(time.RFC3339)
		expiry = &e
	}

	query := `
		INSERT INTO suppliers (id, project_id, name, tax_id, certificate_url, certificate_expiry, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tax_id = excluded.tax_id,
			certificate_url = excluded.certificate_url,
			certificate_expiry = excluded.certificate_expiry
	`

	_, err := s.db.ExecContext(ctx, query,
		sp.ID, sp.ProjectID, sp.Name, sp.TaxID, sp.CertificateURL, expiry,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetSupplier retrieves a supplier by ID.
func (s *Store) GetSupplier(ctx context.Context, id supplier.ID) (*supplier.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sp supplier.Supplier
	var taxID, certURL, expiry sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, name, tax_id, certificate_url, certificate_expiry, created_at FROM suppliers WHERE id = ?",
		id,
	).Scan(&sp.ID, &sp.ProjectID, &sp.Name, &taxID, &certURL, &expiry, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, supplier.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sp.TaxID = taxID.String
	sp.CertificateURL = certURL.String
	if expiry.Valid {
		t, _ := time.Parse(time.RFC3339, expiry.String)
		sp.CertificateExpiry = &t
	}
	sp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sp, nil
}

// ListSuppliers returns all suppliers of a project ordered by name.
func (s *Store) ListSuppliers(ctx context.Context, projectID ledger.ProjectID) ([]supplier.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, name, tax_id, certificate_url, certificate_expiry, created_at FROM suppliers WHERE project_id = ? ORDER BY name",
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suppliers []supplier.Supplier
	for rows.Next() {
		var sp supplier.Supplier
		var taxID, certURL, expiry sql.NullString
		var createdAt string
		if err := rows.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &taxID, &certURL, &expiry, &createdAt); err != nil {
			return nil, err
		}
		sp.TaxID = taxID.String
		sp.CertificateURL = certURL.String
		if expiry.Valid {
			t, _ := time.Parse(time.RFC3339, expiry.String)
			sp.CertificateExpiry = &t
		}
		sp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		suppliers = append(suppliers, sp)
	}
	return suppliers, rows.Err()
}

// DeleteSupplier removes a supplier unless documents still reference it.
func (s *Store) DeleteSupplier(ctx context.Context, id supplier.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM purchase_orders WHERE supplier_id = ?)
		     + (SELECT COUNT(*) FROM invoices WHERE supplier_id = ?)`,
		id, id,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return supplier.ErrInUse
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM suppliers WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return supplier.ErrNotFound
	}
	return nil
}

// =============================================================================
// PURCHASE ORDERS (purchase.Store)
// =============================================================================

// SavePurchaseOrder inserts or updates a purchase order.
func (s *Store) SavePurchaseOrder(ctx context.Context, po *purchase.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemsJSON, err := json.Marshal(po.Items)
	if err != nil {
		return err
	}
	approvalJSON, err := marshalChain(po.Approval)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO purchase_orders
		(id, project_id, number, supplier_id, department, po_type, currency, status,
		 items_json, approval_json, created_by, approved_by, rejected_by, rejection_reason,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			supplier_id = excluded.supplier_id,
			department = excluded.department,
			po_type = excluded.po_type,
			currency = excluded.currency,
			status = excluded.status,
			items_json = excluded.items_json,
			approval_json = excluded.approval_json,
			approved_by = excluded.approved_by,
			rejected_by = excluded.rejected_by,
			rejection_reason = excluded.rejection_reason,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		po.ID, po.ProjectID, po.Number, po.SupplierID, po.Department, po.POType,
		po.Currency, po.Status, string(itemsJSON), approvalJSON,
		po.CreatedBy, userPtr(po.ApprovedBy), userPtr(po.RejectedBy), po.RejectionReason,
		po.CreatedAt.Format(time.RFC3339), po.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// GetPurchaseOrder retrieves a purchase order by ID.
func (s *Store) GetPurchaseOrder(ctx context.Context, id purchase.ID) (*purchase.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, project_id, number, supplier_id, department, po_type, currency, status,
		       items_json, approval_json, created_by, approved_by, rejected_by, rejection_reason,
		       created_at, updated_at
		FROM purchase_orders WHERE id = ?
	`

	pos, err := s.queryPurchaseOrders(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 {
		return nil, purchase.ErrNotFound
	}
	return &pos[0], nil
}

// ListPurchaseOrders returns a project's orders, newest first.
func (s *Store) ListPurchaseOrders(ctx context.Context, projectID ledger.ProjectID) ([]purchase.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, project_id, number, supplier_id, department, po_type, currency, status,
		       items_json, approval_json, created_by, approved_by, rejected_by, rejection_reason,
		       created_at, updated_at
		FROM purchase_orders
		WHERE project_id = ?
		ORDER BY created_at DESC
	`
	return s.queryPurchaseOrders(ctx, query, projectID)
}

// DeletePurchaseOrder removes an order; approved orders are refused.
func (s *Store) DeletePurchaseOrder(ctx context.Context, id purchase.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM purchase_orders WHERE id = ? AND status != 'approved'", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx,
			"SELECT status FROM purchase_orders WHERE id = ?", id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return purchase.ErrNotFound
		}
		if err != nil {
			return err
		}
		return purchase.ErrApprovedImmutable
	}
	return nil
}

// ApproveAndCommit persists the approved order and applies every item's
// ledger commitment in one transaction. The status write is a
// check-and-set on pending; zero rows affected aborts with
// ErrAlreadyFinalized and nothing is committed.
func (s *Store) ApproveAndCommit(ctx context.Context, po *purchase.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	approvalJSON, err := marshalChain(po.Approval)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = 'approved', approval_json = ?, approved_by = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		approvalJSON, userPtr(po.ApprovedBy),
		po.UpdatedAt.Format(time.RFC3339), po.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return purchase.ErrAlreadyFinalized
	}

	for _, item := range po.Items {
		if err := incrementTx(ctx, tx, "committed", item.SubAccountID, item.TotalAmount); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SavePurchaseOrderApproval persists mid-chain chain state only while
// the order is still pending. A concurrent finalization wins the race;
// the stale write returns ErrAlreadyFinalized instead of clobbering it.
func (s *Store) SavePurchaseOrderApproval(ctx context.Context, po *purchase.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	approvalJSON, err := marshalChain(po.Approval)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders
		SET approval_json = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		approvalJSON, po.UpdatedAt.Format(time.RFC3339), po.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return purchase.ErrAlreadyFinalized
	}
	return nil
}

// RejectPurchaseOrder moves a pending order to rejected with the same
// check-and-set as ApproveAndCommit. Without the guard a reject whose
// read landed before a concurrent final approval would overwrite
// 'approved' while the ledger commitment stays applied, and the order
// could then be reopened and committed a second time.
func (s *Store) RejectPurchaseOrder(ctx context.Context, po *purchase.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	approvalJSON, err := marshalChain(po.Approval)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = 'rejected', approval_json = ?, rejected_by = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		approvalJSON, userPtr(po.RejectedBy), po.RejectionReason,
		po.UpdatedAt.Format(time.RFC3339), po.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return purchase.ErrAlreadyFinalized
	}
	return nil
}

func (s *Store) queryPurchaseOrders(ctx context.Context, query string, args ...any) ([]purchase.PurchaseOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pos []purchase.PurchaseOrder
	for rows.Next() {
		var po purchase.PurchaseOrder
		var itemsJSON string
		var approvalJSON, supplierID, department, poType, currency sql.NullString
		var createdBy, approvedBy, rejectedBy, rejectionReason sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(
			&po.ID, &po.ProjectID, &po.Number, &supplierID, &department, &poType,
			&currency, &po.Status, &itemsJSON, &approvalJSON, &createdBy,
			&approvedBy, &rejectedBy, &rejectionReason, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}

		po.SupplierID = supplier.ID(supplierID.String)
		po.Department = department.String
		po.POType = poType.String
		po.Currency = currency.String
		po.CreatedBy = approval.UserID(createdBy.String)
		po.ApprovedBy = userFromNull(approvedBy)
		po.RejectedBy = userFromNull(rejectedBy)
		if rejectionReason.Valid && rejectionReason.String != "" {
			reason := rejectionReason.String
			po.RejectionReason = &reason
		}
		po.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		po.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		if err := json.Unmarshal([]byte(itemsJSON), &po.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items for %s: %w", po.ID, err)
		}
		po.Approval, err = unmarshalChain(approvalJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode approval chain for %s: %w", po.ID, err)
		}
		po.Recalculate()

		pos = append(pos, po)
	}
	return pos, rows.Err()
}

// =============================================================================
// INVOICES (invoice.Store)
// =============================================================================

// SaveInvoice inserts or updates an invoice.
func (s *Store) SaveInvoice(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemsJSON, err := json.Marshal(inv.Items)
	if err != nil {
		return err
	}
	approvalJSON, err := marshalChain(inv.Approval)
	if err != nil {
		return err
	}

	var poID *string
	if inv.PurchaseOrderID != nil {
		p := string(*inv.PurchaseOrderID)
		poID = &p
	}

	query := `
		INSERT INTO invoices
		(id, project_id, number, supplier_id, currency, purchase_order_id, status,
		 items_json, approval_json, created_by, approved_by, rejected_by, rejection_reason,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			supplier_id = excluded.supplier_id,
			currency = excluded.currency,
			purchase_order_id = excluded.purchase_order_id,
			status = excluded.status,
			items_json = excluded.items_json,
			approval_json = excluded.approval_json,
			approved_by = excluded.approved_by,
			rejected_by = excluded.rejected_by,
			rejection_reason = excluded.rejection_reason,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		inv.ID, inv.ProjectID, inv.Number, inv.SupplierID, inv.Currency, poID,
		inv.Status, string(itemsJSON), approvalJSON,
		inv.CreatedBy, userPtr(inv.ApprovedBy), userPtr(inv.RejectedBy), inv.RejectionReason,
		inv.CreatedAt.Format(time.RFC3339), inv.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// GetInvoice retrieves an invoice by ID.
func (s *Store) GetInvoice(ctx context.Context, id invoice.ID) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, project_id, number, supplier_id, currency, purchase_order_id, status,
		       items_json, approval_json, created_by, approved_by, rejected_by, rejection_reason,
		       created_at, updated_at
		FROM invoices WHERE id = ?
	`

	invs, err := s.queryInvoices(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, invoice.ErrNotFound
	}
	return &invs[0], nil
}

// ListInvoices returns a project's invoices, newest first.
func (s *Store) ListInvoices(ctx context.Context, projectID ledger.ProjectID) ([]invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, project_id, number, supplier_id, currency, purchase_order_id, status,
		       items_json, approval_json, created_by, approved_by, rejected_by, rejection_reason,
		       created_at, updated_at
		FROM invoices
		WHERE project_id = ?
		ORDER BY created_at DESC
	`
	return s.queryInvoices(ctx, query, projectID)
}

// DeleteInvoice removes an invoice; approved invoices are refused.
func (s *Store) DeleteInvoice(ctx context.Context, id invoice.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM invoices WHERE id = ? AND status != 'approved'", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx,
			"SELECT status FROM invoices WHERE id = ?", id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return invoice.ErrNotFound
		}
		if err != nil {
			return err
		}
		return invoice.ErrApprovedImmutable
	}
	return nil
}

// ApprovePostActuals persists the approved invoice and posts every
// item's actual in one transaction, with the same pending check-and-set
// as purchase orders.
func (s *Store) ApprovePostActuals(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	approvalJSON, err := marshalChain(inv.Approval)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE invoices
		SET status = 'approved', approval_json = ?, approved_by = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		approvalJSON, userPtr(inv.ApprovedBy),
		inv.UpdatedAt.Format(time.RFC3339), inv.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return invoice.ErrAlreadyFinalized
	}

	for _, item := range inv.Items {
		if err := incrementTx(ctx, tx, "actual", item.SubAccountID, item.TotalAmount); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveInvoiceApproval mirrors the purchase-order variant: chain state
// is only written while the invoice is still pending.
func (s *Store) SaveInvoiceApproval(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	approvalJSON, err := marshalChain(inv.Approval)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET approval_json = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		approvalJSON, inv.UpdatedAt.Format(time.RFC3339), inv.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return invoice.ErrAlreadyFinalized
	}
	return nil
}

// RejectInvoice moves a pending invoice to rejected with the pending
// check-and-set, so a reject racing ApprovePostActuals cannot overwrite
// the approved status after actuals were posted.
func (s *Store) RejectInvoice(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	approvalJSON, err := marshalChain(inv.Approval)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = 'rejected', approval_json = ?, rejected_by = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		approvalJSON, userPtr(inv.RejectedBy), inv.RejectionReason,
		inv.UpdatedAt.Format(time.RFC3339), inv.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return invoice.ErrAlreadyFinalized
	}
	return nil
}

func (s *Store) queryInvoices(ctx context.Context, query string, args ...any) ([]invoice.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []invoice.Invoice
	for rows.Next() {
		var inv invoice.Invoice
		var itemsJSON string
		var approvalJSON, supplierID, currency, poID sql.NullString
		var createdBy, approvedBy, rejectedBy, rejectionReason sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(
			&inv.ID, &inv.ProjectID, &inv.Number, &supplierID, &currency, &poID,
			&inv.Status, &itemsJSON, &approvalJSON, &createdBy,
			&approvedBy, &rejectedBy, &rejectionReason, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}

		inv.SupplierID = supplier.ID(supplierID.String)
		inv.Currency = currency.String
		if poID.Valid && poID.String != "" {
			p := purchase.ID(poID.String)
			inv.PurchaseOrderID = &p
		}
		inv.CreatedBy = approval.UserID(createdBy.String)
		inv.ApprovedBy = userFromNull(approvedBy)
		inv.RejectedBy = userFromNull(rejectedBy)
		if rejectionReason.Valid && rejectionReason.String != "" {
			reason := rejectionReason.String
			inv.RejectionReason = &reason
		}
		inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		inv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		if err := json.Unmarshal([]byte(itemsJSON), &inv.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items for %s: %w", inv.ID, err)
		}
		inv.Approval, err = unmarshalChain(approvalJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode approval chain for %s: %w", inv.ID, err)
		}
		inv.Recalculate()

		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func marshalChain(c *approval.Chain) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalChain(ns sql.NullString) (*approval.Chain, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var c approval.Chain
	if err := json.Unmarshal([]byte(ns.String), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func userPtr(u *approval.UserID) *string {
	if u == nil {
		return nil
	}
	s := string(*u)
	return &s
}

func userFromNull(ns sql.NullString) *approval.UserID {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	u := approval.UserID(ns.String)
	return &u
}

// parseDecimal rejects an unparseable stored amount instead of reading
// it as zero. Treating corrupt data as zero would silently erase a
// running total on the next read-modify-write increment.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
