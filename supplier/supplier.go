// Package supplier holds supplier identity and certificate metadata.
// Suppliers are referenced by id from purchase orders and invoices and
// are not deletable while referenced; the store enforces this with a
// real query over both document tables, not a convention flag.
package supplier

import (
	"context"
	"errors"
	"time"

	"github.com/slateworks/prodledger/ledger"
)

type ID string

type Supplier struct {
	ID                ID
	ProjectID         ledger.ProjectID
	Name              string
	TaxID             string
	CertificateURL    string // opaque blob URL from the file store
	CertificateExpiry *time.Time
	CreatedAt         time.Time
}

var (
	// ErrNotFound is returned when a referenced supplier doesn't exist.
	ErrNotFound = errors.New("supplier not found")

	// ErrInUse is returned when deleting a supplier that is still
	// referenced by purchase orders or invoices.
	ErrInUse = errors.New("supplier has assigned documents")
)

// Store handles supplier persistence.
type Store interface {
	SaveSupplier(ctx context.Context, s Supplier) error
	GetSupplier(ctx context.Context, id ID) (*Supplier, error)
	ListSuppliers(ctx context.Context, projectID ledger.ProjectID) ([]Supplier, error)
	// DeleteSupplier removes a supplier. Returns ErrInUse while any
	// purchase order or invoice references it.
	DeleteSupplier(ctx context.Context, id ID) error
}
