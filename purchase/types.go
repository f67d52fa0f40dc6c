/*
Package purchase owns the purchase-order document and its lifecycle.

PURPOSE:
  A PurchaseOrder wraps line items, Spanish-style tax computation
  (VAT added, IRPF withheld), an embedded approval chain, and the side
  effect of committing budget to subaccounts on full approval.

TAX MATH (per item):
  base  = quantity * unitPrice
  vat   = base * vatRate / 100
  irpf  = base * irpfRate / 100
  total = base + vat - irpf

  Order totals are the sum over items of each derived field.
  Recalculate is deterministic and side-effect-free: derived amounts are
  recomputed in full on every mutation, never patched incrementally.

STATUS:
  draft -> pending -> approved | rejected
  Once submitted, status is a strict function of the approval chain.
  Approved triggers the ledger commit exactly once; rejected is terminal
  until an explicit reopen back to draft.

SEE ALSO:
  - service.go: lifecycle orchestration and the commit side effect
  - approval/: the chain embedded in every order
*/
package purchase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/ledger"
	"github.com/slateworks/prodledger/supplier"
)

// =============================================================================
// STATUS
// =============================================================================

type ID string

type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// =============================================================================
// LINE ITEMS
// =============================================================================

// Item is a purchase-order line. Each item references exactly one
// SubAccount, the commitment target. Items are owned exclusively by
// their order.
type Item struct {
	Description  string              `json:"description"`
	SubAccountID ledger.SubAccountID `json:"subAccountId"`
	Date         time.Time           `json:"date"`
	Quantity     decimal.Decimal     `json:"quantity"`
	UnitPrice    decimal.Decimal     `json:"unitPrice"`
	VATRate      decimal.Decimal     `json:"vatRate"`
	IRPFRate     decimal.Decimal     `json:"irpfRate"`

	// Derived, recomputed by Recalculate
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	VATAmount   decimal.Decimal `json:"vatAmount"`
	IRPFAmount  decimal.Decimal `json:"irpfAmount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

var hundred = decimal.NewFromInt(100)

// Recalculate recomputes the item's four derived amounts.
func (it *Item) Recalculate() {
	it.BaseAmount = it.Quantity.Mul(it.UnitPrice)
	it.VATAmount = it.BaseAmount.Mul(it.VATRate).Div(hundred)
	it.IRPFAmount = it.BaseAmount.Mul(it.IRPFRate).Div(hundred)
	it.TotalAmount = it.BaseAmount.Add(it.VATAmount).Sub(it.IRPFAmount)
}

// Totals is the order-level sum of the item derived fields.
type Totals struct {
	Base  decimal.Decimal `json:"base"`
	VAT   decimal.Decimal `json:"vat"`
	IRPF  decimal.Decimal `json:"irpf"`
	Total decimal.Decimal `json:"total"`
}

// =============================================================================
// PURCHASE ORDER
// =============================================================================

type PurchaseOrder struct {
	ID         ID
	ProjectID  ledger.ProjectID
	Number     string
	SupplierID supplier.ID
	Department string
	POType     string
	Currency   string
	Items      []Item
	Totals     Totals
	Status     Status
	Approval   *approval.Chain

	CreatedBy       approval.UserID
	ApprovedBy      *approval.UserID
	RejectedBy      *approval.UserID
	RejectionReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recalculate recomputes every item and the order totals.
func (po *PurchaseOrder) Recalculate() {
	totals := Totals{
		Base:  decimal.Zero,
		VAT:   decimal.Zero,
		IRPF:  decimal.Zero,
		Total: decimal.Zero,
	}
	for i := range po.Items {
		po.Items[i].Recalculate()
		totals.Base = totals.Base.Add(po.Items[i].BaseAmount)
		totals.VAT = totals.VAT.Add(po.Items[i].VATAmount)
		totals.IRPF = totals.IRPF.Add(po.Items[i].IRPFAmount)
		totals.Total = totals.Total.Add(po.Items[i].TotalAmount)
	}
	po.Totals = totals
}
