/*
store.go - Persistence interface for the budget hierarchy

PURPOSE:
  Defines the boundary between ledger logic and the database. The two
  operations that move money, Commit and PostActual, MUST be atomic:
  the implementation performs the read-modify-write inside a single
  database transaction so that two concurrent document approvals
  incrementing the same SubAccount can never lose an update.

DELETION GUARDS:
  - An Account is deletable only when it owns zero SubAccounts.
  - A SubAccount is deletable only when Committed and Actual are zero;
    deleting a SubAccount with in-flight commitments would orphan money.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store

SEE ALSO:
  - errors.go: sentinel errors returned by implementations
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store handles persistence of accounts and subaccounts.
type Store interface {
	// Accounts
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context, projectID ProjectID) ([]Account, error)
	// DeleteAccount removes an account. Returns ErrAccountHasSubAccounts
	// when the account still owns subaccounts.
	DeleteAccount(ctx context.Context, id AccountID) error

	// SubAccounts
	SaveSubAccount(ctx context.Context, sa SubAccount) error
	GetSubAccount(ctx context.Context, id SubAccountID) (*SubAccount, error)
	ListSubAccounts(ctx context.Context, accountID AccountID) ([]SubAccount, error)
	ListSubAccountsByProject(ctx context.Context, projectID ProjectID) ([]SubAccount, error)
	// DeleteSubAccount removes a subaccount. Returns ErrSubAccountInUse
	// when committed or actual is nonzero.
	DeleteSubAccount(ctx context.Context, id SubAccountID) error

	// Commit atomically increments the subaccount's committed figure.
	// The read and the write happen inside one database transaction.
	Commit(ctx context.Context, id SubAccountID, amount decimal.Decimal) error

	// PostActual atomically increments the subaccount's actual figure.
	PostActual(ctx context.Context, id SubAccountID, amount decimal.Decimal) error
}
