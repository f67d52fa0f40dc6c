package ledger

import "errors"

var (
	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSubAccountNotFound is returned when a referenced subaccount doesn't exist.
	ErrSubAccountNotFound = errors.New("subaccount not found")

	// ErrAccountHasSubAccounts is returned when deleting an account that
	// still owns subaccounts. Delete the subaccounts first.
	ErrAccountHasSubAccounts = errors.New("account still has subaccounts")

	// ErrSubAccountInUse is returned when deleting a subaccount whose
	// committed or actual figure is nonzero.
	ErrSubAccountInUse = errors.New("subaccount has committed or actual amounts")

	// ErrDuplicateCode is returned when an account code already exists
	// within the project.
	ErrDuplicateCode = errors.New("duplicate account code in project")
)
