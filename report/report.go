/*
Package report builds the read-side views over the ledger.

PURPOSE:
  Pure folds: per-subaccount execution rows, a global rollup across all
  accounts, and the cost-control view that flags overruns. The folds
  re-read current state on every call; they may observe a ledger
  mid-commit, which is acceptable for reporting (the commit path itself
  is transactional, see store/sqlite).

COST-CONTROL THRESHOLDS:
  available < 0               -> SOBREPASADO (over budget)
  available < 10% of budgeted -> ALERTA      (warning)
  otherwise                   -> OK
  The 0 and 10% constants are business rules, not tunables.

OUTPUT:
  Rows of strings/numbers handed to a Sink. The core never formats
  delimiters, encoding or filenames; the CSV writer lives at the API
  edge.
*/
package report

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/slateworks/prodledger/ledger"
)

// =============================================================================
// COST-CONTROL STATUS
// =============================================================================

const (
	StatusOK         = "OK"
	StatusWarning    = "ALERTA"
	StatusOverBudget = "SOBREPASADO"
)

var warningPct = decimal.NewFromInt(10) // percent of budgeted

// CostStatus classifies a subaccount's remaining budget.
func CostStatus(budgeted, available decimal.Decimal) string {
	if available.IsNegative() {
		return StatusOverBudget
	}
	threshold := budgeted.Mul(warningPct).Div(decimal.NewFromInt(100))
	if available.LessThan(threshold) {
		return StatusWarning
	}
	return StatusOK
}

// =============================================================================
// ROWS
// =============================================================================

// Row is one subaccount's execution line in the cost-control view.
type Row struct {
	SubAccountID ledger.SubAccountID
	AccountCode  string
	Code         string
	Description  string
	Budgeted     decimal.Decimal
	Committed    decimal.Decimal
	Actual       decimal.Decimal
	Available    decimal.Decimal
	CommittedPct decimal.Decimal // committed / budgeted * 100
	ExecutedPct  decimal.Decimal // actual / budgeted * 100
	Status       string
}

// Rows folds accounts and their subaccounts into execution rows,
// ordered as given. Percentages are zero when budgeted is zero.
func Rows(accounts []ledger.Account, subsByAccount map[ledger.AccountID][]ledger.SubAccount) []Row {
	var rows []Row
	for _, a := range accounts {
		for _, sa := range subsByAccount[a.ID] {
			rows = append(rows, makeRow(a, sa))
		}
	}
	return rows
}

func makeRow(a ledger.Account, sa ledger.SubAccount) Row {
	available := sa.Available()
	row := Row{
		SubAccountID: sa.ID,
		AccountCode:  a.Code,
		Code:         sa.Code,
		Description:  sa.Description,
		Budgeted:     sa.Budgeted,
		Committed:    sa.Committed,
		Actual:       sa.Actual,
		Available:    available,
		CommittedPct: decimal.Zero,
		ExecutedPct:  decimal.Zero,
		Status:       CostStatus(sa.Budgeted, available),
	}
	if !sa.Budgeted.IsZero() {
		hundred := decimal.NewFromInt(100)
		row.CommittedPct = sa.Committed.Mul(hundred).Div(sa.Budgeted)
		row.ExecutedPct = sa.Actual.Mul(hundred).Div(sa.Budgeted)
	}
	return row
}

// =============================================================================
// ROLLUP
// =============================================================================

// AccountSummary is one account's derived totals.
type AccountSummary struct {
	AccountID   ledger.AccountID
	Code        string
	Description string
	Totals      ledger.Totals
}

// Summary is the global rollup across all accounts of a project.
type Summary struct {
	Accounts []AccountSummary
	Totals   ledger.Totals
}

// Rollup folds every account's subaccounts into per-account and global
// totals. Pure read-side computation.
func Rollup(accounts []ledger.Account, subsByAccount map[ledger.AccountID][]ledger.SubAccount) Summary {
	s := Summary{
		Totals: ledger.Totals{
			Budgeted:  decimal.Zero,
			Committed: decimal.Zero,
			Actual:    decimal.Zero,
			Available: decimal.Zero,
		},
	}
	for _, a := range accounts {
		t := ledger.AccountTotals(subsByAccount[a.ID])
		s.Accounts = append(s.Accounts, AccountSummary{
			AccountID:   a.ID,
			Code:        a.Code,
			Description: a.Description,
			Totals:      t,
		})
		s.Totals.Budgeted = s.Totals.Budgeted.Add(t.Budgeted)
		s.Totals.Committed = s.Totals.Committed.Add(t.Committed)
		s.Totals.Actual = s.Totals.Actual.Add(t.Actual)
		s.Totals.Available = s.Totals.Available.Add(t.Available)
	}
	return s
}

// =============================================================================
// EXPORT SINK
// =============================================================================

// Sink receives tabular report output. The concrete formatter (CSV,
// spreadsheet) lives outside the core.
type Sink interface {
	Write(ctx context.Context, header []string, rows [][]string) error
}

// ExportHeader is the column layout produced by Export.
var ExportHeader = []string{
	"account", "code", "description",
	"budgeted", "committed", "actual", "available",
	"committed_pct", "executed_pct", "status",
}

// Export hands the cost-control rows to a sink as strings.
func Export(ctx context.Context, rows []Row, sink Sink) error {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			r.AccountCode,
			r.Code,
			r.Description,
			r.Budgeted.String(),
			r.Committed.String(),
			r.Actual.String(),
			r.Available.String(),
			r.CommittedPct.StringFixed(2),
			r.ExecutedPct.StringFixed(2),
			r.Status,
		}
	}
	return sink.Write(ctx, ExportHeader, out)
}
