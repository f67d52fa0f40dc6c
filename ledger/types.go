/*
Package ledger holds the budget hierarchy for a production.

PURPOSE:
  An Account groups SubAccounts; only SubAccounts carry money. Each
  SubAccount tracks three figures:
    - Budgeted:  planned allocation
    - Committed: reserved by approved purchase orders, not yet paid
    - Actual:    realized spend confirmed by approved invoices

  Available = Budgeted - Committed - Actual. Available MAY go negative:
  over-commitment is a reportable state, not a rejected one. The system
  warns (see report package) but never blocks.

KEY INVARIANTS:
  1. Account totals are ALWAYS derived by folding over SubAccounts.
     There is no stored aggregate that can drift out of sync.
  2. Committed and Actual move only through the approval side effects
     (Store.Commit / Store.PostActual), never by direct edit.
  3. Amounts use decimal.Decimal. No floats anywhere near money.

SEE ALSO:
  - store.go: persistence interfaces, including the atomic increments
  - report/: read-side folds built on these invariants
*/
package ledger

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type AccountID string
type SubAccountID string

// =============================================================================
// ACCOUNT - Parent grouping, no monetary fields of its own
// =============================================================================

// Account groups SubAccounts. Its budgeted/committed/actual are always
// derived by summing its SubAccounts; it never stores money itself.
type Account struct {
	ID          AccountID
	ProjectID   ProjectID
	Code        string // two-digit padded, unique within a project
	Description string
}

// =============================================================================
// SUBACCOUNT - The atomic unit of budget tracking
// =============================================================================

// SubAccount is the commitment target for purchase-order and invoice
// line items. Created with Committed = Actual = 0.
type SubAccount struct {
	ID          SubAccountID
	AccountID   AccountID
	Code        string
	Description string
	Budgeted    decimal.Decimal
	Committed   decimal.Decimal
	Actual      decimal.Decimal
}

// Available returns budgeted - committed - actual. May be negative.
func (sa SubAccount) Available() decimal.Decimal {
	return sa.Budgeted.Sub(sa.Committed).Sub(sa.Actual)
}

// =============================================================================
// DERIVED TOTALS
// =============================================================================

// Totals is the aggregate view over a set of SubAccounts.
type Totals struct {
	Budgeted  decimal.Decimal
	Committed decimal.Decimal
	Actual    decimal.Decimal
	Available decimal.Decimal
}

// AccountTotals folds over SubAccounts and returns derived totals.
// Pure function, no side effects, O(len(subs)).
func AccountTotals(subs []SubAccount) Totals {
	t := Totals{
		Budgeted:  decimal.Zero,
		Committed: decimal.Zero,
		Actual:    decimal.Zero,
	}
	for _, sa := range subs {
		t.Budgeted = t.Budgeted.Add(sa.Budgeted)
		t.Committed = t.Committed.Add(sa.Committed)
		t.Actual = t.Actual.Add(sa.Actual)
	}
	t.Available = t.Budgeted.Sub(t.Committed).Sub(t.Actual)
	return t
}

// =============================================================================
// HELPERS
// =============================================================================

// PadCode normalizes a numeric account code to the two-digit-padded form
// used throughout budget templates ("3" -> "03"). Non-numeric codes are
// returned unchanged.
func PadCode(code string) string {
	if len(code) >= 2 {
		return code
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return code
	}
	return fmt.Sprintf("%02d", n)
}
