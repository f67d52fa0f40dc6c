/*
dto.go - Request/response data structures and error mapping

PURPOSE:
  JSON shapes for the HTTP API plus the helpers that serialize them.
  Money travels as decimal strings, never floats.

ERROR MAPPING (domain error -> HTTP status):
  400 validation        (bad items, missing fields, malformed amounts)
  401 unauthenticated   (auth.go)
  403 authorization     (actor not in the step's approver set)
  404 not found
  409 state conflict / dependent entity
  500 infrastructure
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/invoice"
	"github.com/slateworks/prodledger/ledger"
	"github.com/slateworks/prodledger/purchase"
	"github.com/slateworks/prodledger/supplier"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateAccountRequest struct {
	ProjectID   string `json:"projectId"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

type CreateSubAccountRequest struct {
	AccountID   string `json:"accountId"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Budgeted    string `json:"budgeted"`
}

type CreateSupplierRequest struct {
	ProjectID         string `json:"projectId"`
	Name              string `json:"name"`
	TaxID             string `json:"taxId"`
	CertificateURL    string `json:"certificateUrl"`
	CertificateExpiry string `json:"certificateExpiry,omitempty"` // RFC3339
}

type ItemRequest struct {
	Description  string `json:"description"`
	SubAccountID string `json:"subAccountId"`
	Date         string `json:"date,omitempty"` // 2006-01-02
	Quantity     string `json:"quantity"`
	UnitPrice    string `json:"unitPrice"`
	VATRate      string `json:"vatRate"`
	IRPFRate     string `json:"irpfRate"`
}

type StepRequest struct {
	Approvers  []string `json:"approvers"`
	RequireAll bool     `json:"requireAll"`
}

type CreatePORequest struct {
	ProjectID  string        `json:"projectId"`
	Number     string        `json:"number,omitempty"`
	SupplierID string        `json:"supplierId"`
	Department string        `json:"department"`
	POType     string        `json:"poType"`
	Currency   string        `json:"currency"`
	Items      []ItemRequest `json:"items"`
	Steps      []StepRequest `json:"approvalSteps"`
}

type CreateInvoiceRequest struct {
	ProjectID       string        `json:"projectId"`
	Number          string        `json:"number,omitempty"`
	SupplierID      string        `json:"supplierId"`
	Currency        string        `json:"currency"`
	PurchaseOrderID string        `json:"purchaseOrderId,omitempty"`
	Items           []ItemRequest `json:"items"`
	Steps           []StepRequest `json:"approvalSteps"`
}

type ApproveRequest struct {
	Step int `json:"step"`
}

type RejectRequest struct {
	Step   int    `json:"step"`
	Reason string `json:"reason"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type AccountDTO struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

type SubAccountDTO struct {
	ID          string `json:"id"`
	AccountID   string `json:"accountId"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Budgeted    string `json:"budgeted"`
	Committed   string `json:"committed"`
	Actual      string `json:"actual"`
	Available   string `json:"available"`
}

type SupplierDTO struct {
	ID                string `json:"id"`
	ProjectID         string `json:"projectId"`
	Name              string `json:"name"`
	TaxID             string `json:"taxId,omitempty"`
	CertificateURL    string `json:"certificateUrl,omitempty"`
	CertificateExpiry string `json:"certificateExpiry,omitempty"`
}

type ItemDTO struct {
	Description  string `json:"description"`
	SubAccountID string `json:"subAccountId"`
	Date         string `json:"date,omitempty"`
	Quantity     string `json:"quantity"`
	UnitPrice    string `json:"unitPrice"`
	VATRate      string `json:"vatRate"`
	IRPFRate     string `json:"irpfRate"`
	BaseAmount   string `json:"baseAmount"`
	VATAmount    string `json:"vatAmount"`
	IRPFAmount   string `json:"irpfAmount"`
	TotalAmount  string `json:"totalAmount"`
}

type TotalsDTO struct {
	Base  string `json:"base"`
	VAT   string `json:"vat"`
	IRPF  string `json:"irpf"`
	Total string `json:"total"`
}

type StepDTO struct {
	Order      int      `json:"order"`
	Approvers  []string `json:"approvers"`
	ApprovedBy []string `json:"approvedBy,omitempty"`
	RejectedBy []string `json:"rejectedBy,omitempty"`
	Status     string   `json:"status"`
	RequireAll bool     `json:"requireAll"`
}

type PurchaseOrderDTO struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	Number          string    `json:"number"`
	SupplierID      string    `json:"supplierId,omitempty"`
	Department      string    `json:"department,omitempty"`
	POType          string    `json:"poType,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	Status          string    `json:"status"`
	Items           []ItemDTO `json:"items"`
	Totals          TotalsDTO `json:"totals"`
	ApprovalSteps   []StepDTO `json:"approvalSteps,omitempty"`
	CurrentStep     int       `json:"currentApprovalStep"`
	CreatedBy       string    `json:"createdBy,omitempty"`
	ApprovedBy      string    `json:"approvedBy,omitempty"`
	RejectedBy      string    `json:"rejectedBy,omitempty"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	CreatedAt       string    `json:"createdAt"`
	UpdatedAt       string    `json:"updatedAt"`
}

type InvoiceDTO struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	Number          string    `json:"number"`
	SupplierID      string    `json:"supplierId,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	PurchaseOrderID string    `json:"purchaseOrderId,omitempty"`
	Status          string    `json:"status"`
	Items           []ItemDTO `json:"items"`
	Totals          TotalsDTO `json:"totals"`
	ApprovalSteps   []StepDTO `json:"approvalSteps,omitempty"`
	CurrentStep     int       `json:"currentApprovalStep"`
	CreatedBy       string    `json:"createdBy,omitempty"`
	ApprovedBy      string    `json:"approvedBy,omitempty"`
	RejectedBy      string    `json:"rejectedBy,omitempty"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	CreatedAt       string    `json:"createdAt"`
	UpdatedAt       string    `json:"updatedAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func accountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:          string(a.ID),
		ProjectID:   string(a.ProjectID),
		Code:        a.Code,
		Description: a.Description,
	}
}

func subAccountDTO(sa ledger.SubAccount) SubAccountDTO {
	return SubAccountDTO{
		ID:          string(sa.ID),
		AccountID:   string(sa.AccountID),
		Code:        sa.Code,
		Description: sa.Description,
		Budgeted:    sa.Budgeted.String(),
		Committed:   sa.Committed.String(),
		Actual:      sa.Actual.String(),
		Available:   sa.Available().String(),
	}
}

func supplierDTO(sp supplier.Supplier) SupplierDTO {
	dto := SupplierDTO{
		ID:             string(sp.ID),
		ProjectID:      string(sp.ProjectID),
		Name:           sp.Name,
		TaxID:          sp.TaxID,
		CertificateURL: sp.CertificateURL,
	}
	if sp.CertificateExpiry != nil {
		dto.CertificateExpiry = sp.CertificateExpiry.Format(time.RFC3339)
	}
	return dto
}

func stepDTOs(c *approval.Chain) ([]StepDTO, int) {
	if c == nil {
		return nil, 0
	}
	dtos := make([]StepDTO, len(c.Steps))
	for i, st := range c.Steps {
		dtos[i] = StepDTO{
			Order:      st.Order,
			Approvers:  userStrings(st.Approvers),
			ApprovedBy: userStrings(st.ApprovedBy),
			RejectedBy: userStrings(st.RejectedBy),
			Status:     string(st.Status),
			RequireAll: st.RequireAll,
		}
	}
	return dtos, c.Current
}

func userStrings(users []approval.UserID) []string {
	if len(users) == 0 {
		return nil
	}
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = string(u)
	}
	return out
}

func poDTO(po *purchase.PurchaseOrder) PurchaseOrderDTO {
	items := make([]ItemDTO, len(po.Items))
	for i, it := range po.Items {
		items[i] = ItemDTO{
			Description:  it.Description,
			SubAccountID: string(it.SubAccountID),
			Quantity:     it.Quantity.String(),
			UnitPrice:    it.UnitPrice.String(),
			VATRate:      it.VATRate.String(),
			IRPFRate:     it.IRPFRate.String(),
			BaseAmount:   it.BaseAmount.String(),
			VATAmount:    it.VATAmount.String(),
			IRPFAmount:   it.IRPFAmount.String(),
			TotalAmount:  it.TotalAmount.String(),
		}
		if !it.Date.IsZero() {
			items[i].Date = it.Date.Format("2006-01-02")
		}
	}

	steps, current := stepDTOs(po.Approval)
	dto := PurchaseOrderDTO{
		ID:            string(po.ID),
		ProjectID:     string(po.ProjectID),
		Number:        po.Number,
		SupplierID:    string(po.SupplierID),
		Department:    po.Department,
		POType:        po.POType,
		Currency:      po.Currency,
		Status:        string(po.Status),
		Items:         items,
		Totals:        TotalsDTO{Base: po.Totals.Base.String(), VAT: po.Totals.VAT.String(), IRPF: po.Totals.IRPF.String(), Total: po.Totals.Total.String()},
		ApprovalSteps: steps,
		CurrentStep:   current,
		CreatedBy:     string(po.CreatedBy),
		CreatedAt:     po.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     po.UpdatedAt.Format(time.RFC3339),
	}
	if po.ApprovedBy != nil {
		dto.ApprovedBy = string(*po.ApprovedBy)
	}
	if po.RejectedBy != nil {
		dto.RejectedBy = string(*po.RejectedBy)
	}
	if po.RejectionReason != nil {
		dto.RejectionReason = *po.RejectionReason
	}
	return dto
}

func invoiceDTO(inv *invoice.Invoice) InvoiceDTO {
	items := make([]ItemDTO, len(inv.Items))
	for i, it := range inv.Items {
		items[i] = ItemDTO{
			Description:  it.Description,
			SubAccountID: string(it.SubAccountID),
			Quantity:     it.Quantity.String(),
			UnitPrice:    it.UnitPrice.String(),
			VATRate:      it.VATRate.String(),
			IRPFRate:     it.IRPFRate.String(),
			BaseAmount:   it.BaseAmount.String(),
			VATAmount:    it.VATAmount.String(),
			IRPFAmount:   it.IRPFAmount.String(),
			TotalAmount:  it.TotalAmount.String(),
		}
		if !it.Date.IsZero() {
			items[i].Date = it.Date.Format("2006-01-02")
		}
	}

	steps, current := stepDTOs(inv.Approval)
	dto := InvoiceDTO{
		ID:            string(inv.ID),
		ProjectID:     string(inv.ProjectID),
		Number:        inv.Number,
		SupplierID:    string(inv.SupplierID),
		Currency:      inv.Currency,
		Status:        string(inv.Status),
		Items:         items,
		Totals:        TotalsDTO{Base: inv.Totals.Base.String(), VAT: inv.Totals.VAT.String(), IRPF: inv.Totals.IRPF.String(), Total: inv.Totals.Total.String()},
		ApprovalSteps: steps,
		CurrentStep:   current,
		CreatedBy:     string(inv.CreatedBy),
		CreatedAt:     inv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     inv.UpdatedAt.Format(time.RFC3339),
	}
	if inv.PurchaseOrderID != nil {
		dto.PurchaseOrderID = string(*inv.PurchaseOrderID)
	}
	if inv.ApprovedBy != nil {
		dto.ApprovedBy = string(*inv.ApprovedBy)
	}
	if inv.RejectedBy != nil {
		dto.RejectedBy = string(*inv.RejectedBy)
	}
	if inv.RejectionReason != nil {
		dto.RejectionReason = *inv.RejectionReason
	}
	return dto
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to the HTTP taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error(), nil)
}

func statusFor(err error) int {
	var poItemErr *purchase.ItemValidationError
	var invItemErr *invoice.ItemValidationError
	var terminalErr *approval.TerminalStateError

	switch {
	// Validation errors: user-correctable, nothing mutated.
	case errors.As(err, &poItemErr),
		errors.As(err, &invItemErr),
		errors.Is(err, purchase.ErrNoItems),
		errors.Is(err, invoice.ErrNoItems),
		errors.Is(err, purchase.ErrNoApprovalChain),
		errors.Is(err, invoice.ErrNoApprovalChain),
		errors.Is(err, approval.ErrReasonRequired),
		errors.Is(err, approval.ErrNoSteps),
		errors.Is(err, approval.ErrNoApprovers):
		return http.StatusBadRequest

	// Authorization: actor not allowed to act on this step.
	case errors.Is(err, approval.ErrNotApprover):
		return http.StatusForbidden

	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrSubAccountNotFound),
		errors.Is(err, supplier.ErrNotFound),
		errors.Is(err, purchase.ErrNotFound),
		errors.Is(err, invoice.ErrNotFound):
		return http.StatusNotFound

	// State conflicts and dependent entities: stale client views and
	// refused deletions.
	case errors.As(err, &terminalErr),
		errors.Is(err, approval.ErrStepClosed),
		errors.Is(err, approval.ErrStepNotReached),
		errors.Is(err, approval.ErrStepOutOfRange),
		errors.Is(err, purchase.ErrAlreadyFinalized),
		errors.Is(err, invoice.ErrAlreadyFinalized),
		errors.Is(err, purchase.ErrNotDraft),
		errors.Is(err, invoice.ErrNotDraft),
		errors.Is(err, purchase.ErrNotRejected),
		errors.Is(err, invoice.ErrNotRejected),
		errors.Is(err, purchase.ErrNotSubmitted),
		errors.Is(err, invoice.ErrNotSubmitted),
		errors.Is(err, purchase.ErrApprovedImmutable),
		errors.Is(err, invoice.ErrApprovedImmutable),
		errors.Is(err, ledger.ErrAccountHasSubAccounts),
		errors.Is(err, ledger.ErrSubAccountInUse),
		errors.Is(err, ledger.ErrDuplicateCode),
		errors.Is(err, supplier.ErrInUse):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
