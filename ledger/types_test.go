package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/slateworks/prodledger/ledger"
)

// =============================================================================
// DERIVED TOTALS
// =============================================================================

func TestAccountTotals_SumOfSubAccounts(t *testing.T) {
	// GIVEN: An account with two subaccounts carrying money
	// WHEN: Folding them into totals
	// THEN: Every figure is the exact sum, available included

	subs := []ledger.SubAccount{
		{
			ID:        "sa-1",
			Budgeted:  decimal.NewFromInt(1000),
			Committed: decimal.NewFromInt(300),
			Actual:    decimal.NewFromInt(100),
		},
		{
			ID:        "sa-2",
			Budgeted:  decimal.NewFromInt(500),
			Committed: decimal.NewFromInt(50),
			Actual:    decimal.NewFromInt(25),
		},
	}

	totals := ledger.AccountTotals(subs)

	assert.Equal(t, "1500", totals.Budgeted.String())
	assert.Equal(t, "350", totals.Committed.String())
	assert.Equal(t, "125", totals.Actual.String())
	assert.Equal(t, "1025", totals.Available.String())
}

func TestAccountTotals_Empty(t *testing.T) {
	// GIVEN: An account with no subaccounts
	// WHEN: Folding
	// THEN: All zeros, not nil decimals

	totals := ledger.AccountTotals(nil)

	assert.True(t, totals.Budgeted.IsZero())
	assert.True(t, totals.Committed.IsZero())
	assert.True(t, totals.Actual.IsZero())
	assert.True(t, totals.Available.IsZero())
}

func TestSubAccount_AvailableMayGoNegative(t *testing.T) {
	// GIVEN: A subaccount committed beyond its budget
	// WHEN: Computing available
	// THEN: The figure is negative; over-commitment is reported, not blocked

	sa := ledger.SubAccount{
		Budgeted:  decimal.NewFromInt(1000),
		Committed: decimal.NewFromInt(1200),
		Actual:    decimal.Zero,
	}

	assert.Equal(t, "-200", sa.Available().String())
}

func TestSubAccount_AvailableSubtractsBothFigures(t *testing.T) {
	sa := ledger.SubAccount{
		Budgeted:  decimal.NewFromInt(1000),
		Committed: decimal.NewFromInt(300),
		Actual:    decimal.NewFromInt(200),
	}

	assert.Equal(t, "500", sa.Available().String())
}

// =============================================================================
// CODE PADDING
// =============================================================================

func TestPadCode(t *testing.T) {
	assert.Equal(t, "03", ledger.PadCode("3"))
	assert.Equal(t, "10", ledger.PadCode("10"))
	assert.Equal(t, "100", ledger.PadCode("100"))
	assert.Equal(t, "X", ledger.PadCode("X"))
	assert.Equal(t, "", ledger.PadCode(""))
}
