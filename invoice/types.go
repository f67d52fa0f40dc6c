/*
Package invoice owns the invoice document and its lifecycle.

PURPOSE:
  Structurally parallel to purchase orders, with two differences:
    - full approval posts each item's TotalAmount to the subaccount's
      ACTUAL figure (realized spend), not committed
    - there is no budget pre-check: invoices may be approved even when
      they drive available negative. Cost overruns are visible in the
      cost-control report, never blocked here.

  An invoice may reference a purchase order for reconciliation. The
  reference is informational; amounts can diverge freely.

SEE ALSO:
  - purchase/: the committed-side twin of this package
  - report/: where overruns become SOBREPASADO rows
*/
package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/ledger"
	"github.com/slateworks/prodledger/purchase"
	"github.com/slateworks/prodledger/supplier"
)

type ID string

type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Item is an invoice line. Same tax math as a purchase-order line.
type Item struct {
	Description  string              `json:"description"`
	SubAccountID ledger.SubAccountID `json:"subAccountId"`
	Date         time.Time           `json:"date"`
	Quantity     decimal.Decimal     `json:"quantity"`
	UnitPrice    decimal.Decimal     `json:"unitPrice"`
	VATRate      decimal.Decimal     `json:"vatRate"`
	IRPFRate     decimal.Decimal     `json:"irpfRate"`

	BaseAmount  decimal.Decimal `json:"baseAmount"`
	VATAmount   decimal.Decimal `json:"vatAmount"`
	IRPFAmount  decimal.Decimal `json:"irpfAmount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

var hundred = decimal.NewFromInt(100)

func (it *Item) Recalculate() {
	it.BaseAmount = it.Quantity.Mul(it.UnitPrice)
	it.VATAmount = it.BaseAmount.Mul(it.VATRate).Div(hundred)
	it.IRPFAmount = it.BaseAmount.Mul(it.IRPFRate).Div(hundred)
	it.TotalAmount = it.BaseAmount.Add(it.VATAmount).Sub(it.IRPFAmount)
}

type Totals struct {
	Base  decimal.Decimal `json:"base"`
	VAT   decimal.Decimal `json:"vat"`
	IRPF  decimal.Decimal `json:"irpf"`
	Total decimal.Decimal `json:"total"`
}

type Invoice struct {
	ID         ID
	ProjectID  ledger.ProjectID
	Number     string
	SupplierID supplier.ID
	Currency   string

	// Optional reconciliation target. Not enforced.
	PurchaseOrderID *purchase.ID

	Items    []Item
	Totals   Totals
	Status   Status
	Approval *approval.Chain

	CreatedBy       approval.UserID
	ApprovedBy      *approval.UserID
	RejectedBy      *approval.UserID
	RejectionReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recalculate recomputes every item and the invoice totals.
func (inv *Invoice) Recalculate() {
	totals := Totals{
		Base:  decimal.Zero,
		VAT:   decimal.Zero,
		IRPF:  decimal.Zero,
		Total: decimal.Zero,
	}
	for i := range inv.Items {
		inv.Items[i].Recalculate()
		totals.Base = totals.Base.Add(inv.Items[i].BaseAmount)
		totals.VAT = totals.VAT.Add(inv.Items[i].VATAmount)
		totals.IRPF = totals.IRPF.Add(inv.Items[i].IRPFAmount)
		totals.Total = totals.Total.Add(inv.Items[i].TotalAmount)
	}
	inv.Totals = totals
}
