/*
handlers.go - HTTP handlers for accounts, documents and reports

PURPOSE:
  Translates HTTP requests into core calls and core results into DTOs.
  No business rule lives here: validation of money movement, approval
  membership and deletion guards all happen in the core and the store.

IDENTITY:
  createdBy/approver identity always comes from the authenticated actor
  (auth.go), never from the request body.
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/slateworks/prodledger/approval"
	"github.com/slateworks/prodledger/invoice"
	"github.com/slateworks/prodledger/ledger"
	"github.com/slateworks/prodledger/purchase"
	"github.com/slateworks/prodledger/report"
	"github.com/slateworks/prodledger/supplier"
)

// Stores aggregates the persistence interfaces the handlers read from.
type Stores struct {
	Ledger   ledger.Store
	Supplier supplier.Store
}

type Handler struct {
	stores   Stores
	orders   *purchase.Service
	invoices *invoice.Service
	log      *zap.Logger
}

func NewHandler(stores Stores, orders *purchase.Service, invoices *invoice.Service, log *zap.Logger) *Handler {
	return &Handler{stores: stores, orders: orders, invoices: invoices, log: log}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ProjectID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "projectId and code are required", nil)
		return
	}

	a := ledger.Account{
		ID:          ledger.AccountID(uuid.NewString()),
		ProjectID:   ledger.ProjectID(req.ProjectID),
		Code:        ledger.PadCode(req.Code),
		Description: req.Description,
	}
	if err := h.stores.Ledger.SaveAccount(r.Context(), a); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountDTO(a))
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	projectID := ledger.ProjectID(r.URL.Query().Get("projectId"))
	accounts, err := h.stores.Ledger.ListAccounts(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = accountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	a, err := h.stores.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(*a))
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if err := h.stores.Ledger.DeleteAccount(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SUBACCOUNTS
// =============================================================================

func (h *Handler) CreateSubAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateSubAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "accountId and code are required", nil)
		return
	}
	budgeted, err := parseAmount(req.Budgeted, "budgeted")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	// Parent must exist before we attach money to it.
	if _, err := h.stores.Ledger.GetAccount(r.Context(), ledger.AccountID(req.AccountID)); err != nil {
		writeDomainError(w, err)
		return
	}

	sa := ledger.SubAccount{
		ID:          ledger.SubAccountID(uuid.NewString()),
		AccountID:   ledger.AccountID(req.AccountID),
		Code:        ledger.PadCode(req.Code),
		Description: req.Description,
		Budgeted:    budgeted,
		Committed:   decimal.Zero,
		Actual:      decimal.Zero,
	}
	if err := h.stores.Ledger.SaveSubAccount(r.Context(), sa); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subAccountDTO(sa))
}

func (h *Handler) UpdateSubAccountBudget(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubAccountID(chi.URLParam(r, "id"))
	var req struct {
		Budgeted    string `json:"budgeted"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sa, err := h.stores.Ledger.GetSubAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Budgeted != "" {
		budgeted, err := parseAmount(req.Budgeted, "budgeted")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		sa.Budgeted = budgeted
	}
	if req.Description != "" {
		sa.Description = req.Description
	}
	if err := h.stores.Ledger.SaveSubAccount(r.Context(), *sa); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subAccountDTO(*sa))
}

func (h *Handler) ListSubAccounts(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	subs, err := h.stores.Ledger.ListSubAccounts(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]SubAccountDTO, len(subs))
	for i, sa := range subs {
		dtos[i] = subAccountDTO(sa)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetSubAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubAccountID(chi.URLParam(r, "id"))
	sa, err := h.stores.Ledger.GetSubAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subAccountDTO(*sa))
}

func (h *Handler) DeleteSubAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubAccountID(chi.URLParam(r, "id"))
	if err := h.stores.Ledger.DeleteSubAccount(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SUPPLIERS
// =============================================================================

func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req CreateSupplierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ProjectID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "projectId and name are required", nil)
		return
	}

	sp := supplier.Supplier{
		ID:             supplier.ID(uuid.NewString()),
		ProjectID:      ledger.ProjectID(req.ProjectID),
		Name:           req.Name,
		TaxID:          req.TaxID,
		CertificateURL: req.CertificateURL,
		CreatedAt:      time.Now().UTC(),
	}
	if req.CertificateExpiry != "" {
		t, err := time.Parse(time.RFC3339, req.CertificateExpiry)
		if err != nil {
			writeError(w, http.StatusBadRequest, "certificateExpiry must be RFC3339", err)
			return
		}
		sp.CertificateExpiry = &t
	}
	if err := h.stores.Supplier.SaveSupplier(r.Context(), sp); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, supplierDTO(sp))
}

func (h *Handler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	projectID := ledger.ProjectID(r.URL.Query().Get("projectId"))
	suppliers, err := h.stores.Supplier.ListSuppliers(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]SupplierDTO, len(suppliers))
	for i, sp := range suppliers {
		dtos[i] = supplierDTO(sp)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	id := supplier.ID(chi.URLParam(r, "id"))
	sp, err := h.stores.Supplier.GetSupplier(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, supplierDTO(*sp))
}

func (h *Handler) DeleteSupplier(w http.ResponseWriter, r *http.Request) {
	id := supplier.ID(chi.URLParam(r, "id"))
	if err := h.stores.Supplier.DeleteSupplier(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

func (h *Handler) CreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
		return
	}
	var req CreatePORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	po, err := h.buildPurchaseOrder(req, actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.orders.Create(r.Context(), po); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, poDTO(po))
}

func (h *Handler) UpdatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
		return
	}
	id := purchase.ID(chi.URLParam(r, "id"))
	var req CreatePORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	po, err := h.buildPurchaseOrder(req, actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	po.ID = id
	if req.Number != "" {
		po.Number = req.Number
	}
	if err := h.orders.Update(r.Context(), po); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poDTO(po))
}

func (h *Handler) buildPurchaseOrder(req CreatePORequest, createdBy approval.UserID) (*purchase.PurchaseOrder, error) {
	items, err := parsePOItems(req.Items)
	if err != nil {
		return nil, err
	}
	chain, err := parseChain(req.Steps)
	if err != nil {
		return nil, err
	}
	return &purchase.PurchaseOrder{
		ProjectID:  ledger.ProjectID(req.ProjectID),
		Number:     req.Number,
		SupplierID: supplier.ID(req.SupplierID),
		Department: req.Department,
		POType:     req.POType,
		Currency:   req.Currency,
		Items:      items,
		Approval:   chain,
		CreatedBy:  createdBy,
	}, nil
}

func (h *Handler) ListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	projectID := ledger.ProjectID(r.URL.Query().Get("projectId"))
	orders, err := h.orders.List(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]PurchaseOrderDTO, len(orders))
	for i := range orders {
		dtos[i] = poDTO(&orders[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id := purchase.ID(chi.URLParam(r, "id"))
	po, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poDTO(po))
}

func (h *Handler) SubmitPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id := purchase.ID(chi.URLParam(r, "id"))
	po, err := h.orders.Submit(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poDTO(po))
}

func (h *Handler) ApprovePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
		return
	}
	id := purchase.ID(chi.URLParam(r, "id"))
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	po, err := h.orders.Approve(r.Context(), id, req.Step, actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if po.Status == purchase.StatusApproved {
		h.log.Info("purchase order approved, commitments applied",
			zap.String("id", string(po.ID)),
			zap.String("total", po.Totals.Total.String()))
	}
	writeJSON(w, http.StatusOK, poDTO(po))
}

func (h *Handler) RejectPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
		return
	}
	id := purchase.ID(chi.URLParam(r, "id"))
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	po, err := h.orders.Reject(r.Context(), id, req.Step, actor.UserID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poDTO(po))
}

func (h *Handler) ReopenPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id := purchase.ID(chi.URLParam(r, "id"))
	po, err := h.orders.Reopen(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poDTO(po))
}

func (h *Handler) DeletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id := purchase.ID(chi.URLParam(r, "id"))
	if err := h.orders.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INVOICES
// =============================================================================

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
		return
	}
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inv, err := h.buildInvoice(req, actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.invoices.Create(r.Context(), inv); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoiceDTO(inv))
}

func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
		return
	}
	id := invoice.ID(chi.URLParam(r, "id"))
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inv, err := h.buildInvoice(req, actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	inv.ID = id
	if req.Number != "" {
		inv.Number = req.Number
	}
	if err := h.invoices.Update(r.Context(), inv); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceDTO(inv))
}

func (h *Handler) buildInvoice(req CreateInvoiceRequest, createdBy approval.UserID) (*invoice.Invoice, error) {
	items, err := parseInvoiceItems(req.Items)
	if err != nil {
		return nil, err
	}
	chain, err := parseChain(req.Steps)
	if err != nil {
		return nil, err
	}
	inv := &invoice.Invoice{
		ProjectID:  ledger.ProjectID(req.ProjectID),
		Number:     req.Number,
		SupplierID: supplier.ID(req.SupplierID),
		Currency:   req.Currency,
		Items:      items,
		Approval:   chain,
		CreatedBy:  createdBy,
	}
	if req.PurchaseOrderID != "" {
		poID := purchase.ID(req.PurchaseOrderID)
		inv.PurchaseOrderID = &poID
	}
	return inv, nil
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	projectID := ledger.ProjectID(r.URL.Query().Get("projectId"))
	invoices, err := h.invoices.List(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i := range invoices {
		dtos[i] = invoiceDTO(&invoices[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := invoice.ID(chi.URLParam(r, "id"))
	inv, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceDTO(inv))
}

func (h *Handler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	id := invoice.ID(chi.URLParam(r, "id"))
	inv, err := h.invoices.Submit(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceDTO(inv))
}

func (h *Handler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
		return
	}
	id := invoice.ID(chi.URLParam(r, "id"))
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inv, err := h.invoices.Approve(r.Context(), id, req.Step, actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if inv.Status == invoice.StatusApproved {
		h.log.Info("invoice approved, actuals posted",
			zap.String("id", string(inv.ID)),
			zap.String("total", inv.Totals.Total.String()))
	}
	writeJSON(w, http.StatusOK, invoiceDTO(inv))
}

func (h *Handler) RejectInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
		return
	}
	id := invoice.ID(chi.URLParam(r, "id"))
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inv, err := h.invoices.Reject(r.Context(), id, req.Step, actor.UserID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceDTO(inv))
}

func (h *Handler) ReopenInvoice(w http.ResponseWriter, r *http.Request) {
	id := invoice.ID(chi.URLParam(r, "id"))
	inv, err := h.invoices.Reopen(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceDTO(inv))
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := invoice.ID(chi.URLParam(r, "id"))
	if err := h.invoices.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORTS
// =============================================================================

func (h *Handler) costControlRows(r *http.Request) ([]report.Row, error) {
	projectID := ledger.ProjectID(r.URL.Query().Get("projectId"))
	accounts, err := h.stores.Ledger.ListAccounts(r.Context(), projectID)
	if err != nil {
		return nil, err
	}
	subsByAccount := make(map[ledger.AccountID][]ledger.SubAccount, len(accounts))
	for _, a := range accounts {
		subs, err := h.stores.Ledger.ListSubAccounts(r.Context(), a.ID)
		if err != nil {
			return nil, err
		}
		subsByAccount[a.ID] = subs
	}
	return report.Rows(accounts, subsByAccount), nil
}

func (h *Handler) CostControlReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.costControlRows(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type rowDTO struct {
		SubAccountID string `json:"subAccountId"`
		Account      string `json:"account"`
		Code         string `json:"code"`
		Description  string `json:"description"`
		Budgeted     string `json:"budgeted"`
		Committed    string `json:"committed"`
		Actual       string `json:"actual"`
		Available    string `json:"available"`
		CommittedPct string `json:"committedPct"`
		ExecutedPct  string `json:"executedPct"`
		Status       string `json:"status"`
	}
	dtos := make([]rowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = rowDTO{
			SubAccountID: string(row.SubAccountID),
			Account:      row.AccountCode,
			Code:         row.Code,
			Description:  row.Description,
			Budgeted:     row.Budgeted.String(),
			Committed:    row.Committed.String(),
			Actual:       row.Actual.String(),
			Available:    row.Available.String(),
			CommittedPct: row.CommittedPct.StringFixed(2),
			ExecutedPct:  row.ExecutedPct.StringFixed(2),
			Status:       row.Status,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) BudgetSummary(w http.ResponseWriter, r *http.Request) {
	projectID := ledger.ProjectID(r.URL.Query().Get("projectId"))
	accounts, err := h.stores.Ledger.ListAccounts(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	subsByAccount := make(map[ledger.AccountID][]ledger.SubAccount, len(accounts))
	for _, a := range accounts {
		subs, err := h.stores.Ledger.ListSubAccounts(r.Context(), a.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		subsByAccount[a.ID] = subs
	}
	summary := report.Rollup(accounts, subsByAccount)

	type totalsDTO struct {
		Budgeted  string `json:"budgeted"`
		Committed string `json:"committed"`
		Actual    string `json:"actual"`
		Available string `json:"available"`
	}
	type accountSummaryDTO struct {
		AccountID   string    `json:"accountId"`
		Code        string    `json:"code"`
		Description string    `json:"description"`
		Totals      totalsDTO `json:"totals"`
	}
	toTotals := func(t ledger.Totals) totalsDTO {
		return totalsDTO{
			Budgeted:  t.Budgeted.String(),
			Committed: t.Committed.String(),
			Actual:    t.Actual.String(),
			Available: t.Available.String(),
		}
	}
	resp := struct {
		Accounts []accountSummaryDTO `json:"accounts"`
		Totals   totalsDTO           `json:"totals"`
	}{Totals: toTotals(summary.Totals)}
	for _, as := range summary.Accounts {
		resp.Accounts = append(resp.Accounts, accountSummaryDTO{
			AccountID:   string(as.AccountID),
			Code:        as.Code,
			Description: as.Description,
			Totals:      toTotals(as.Totals),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ExportCostControl(w http.ResponseWriter, r *http.Request) {
	rows, err := h.costControlRows(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="cost-control.csv"`)
	if err := report.Export(r.Context(), rows, NewCSVSink(w)); err != nil {
		h.log.Error("csv export failed", zap.Error(err))
	}
}

// =============================================================================
// PARSING
// =============================================================================

func parseAmount(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal number", field)
	}
	return d, nil
}

func parseItemAmounts(it ItemRequest) (qty, price, vat, irpf decimal.Decimal, date time.Time, err error) {
	if qty, err = parseAmount(it.Quantity, "quantity"); err != nil {
		return
	}
	if price, err = parseAmount(it.UnitPrice, "unitPrice"); err != nil {
		return
	}
	if vat, err = parseAmount(it.VATRate, "vatRate"); err != nil {
		return
	}
	if irpf, err = parseAmount(it.IRPFRate, "irpfRate"); err != nil {
		return
	}
	if it.Date != "" {
		if date, err = time.Parse("2006-01-02", it.Date); err != nil {
			err = fmt.Errorf("date must be YYYY-MM-DD")
		}
	}
	return
}

func parsePOItems(reqs []ItemRequest) ([]purchase.Item, error) {
	items := make([]purchase.Item, len(reqs))
	for i, it := range reqs {
		qty, price, vat, irpf, date, err := parseItemAmounts(it)
		if err != nil {
			return nil, err
		}
		items[i] = purchase.Item{
			Description:  it.Description,
			SubAccountID: ledger.SubAccountID(it.SubAccountID),
			Date:         date,
			Quantity:     qty,
			UnitPrice:    price,
			VATRate:      vat,
			IRPFRate:     irpf,
		}
	}
	return items, nil
}

func parseInvoiceItems(reqs []ItemRequest) ([]invoice.Item, error) {
	items := make([]invoice.Item, len(reqs))
	for i, it := range reqs {
		qty, price, vat, irpf, date, err := parseItemAmounts(it)
		if err != nil {
			return nil, err
		}
		items[i] = invoice.Item{
			Description:  it.Description,
			SubAccountID: ledger.SubAccountID(it.SubAccountID),
			Date:         date,
			Quantity:     qty,
			UnitPrice:    price,
			VATRate:      vat,
			IRPFRate:     irpf,
		}
	}
	return items, nil
}

func parseChain(reqs []StepRequest) (*approval.Chain, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	specs := make([]approval.StepSpec, len(reqs))
	for i, st := range reqs {
		specs[i] = approval.StepSpec{
			Approvers:  make([]approval.UserID, len(st.Approvers)),
			RequireAll: st.RequireAll,
		}
		for j, u := range st.Approvers {
			specs[i].Approvers[j] = approval.UserID(u)
		}
	}
	return approval.NewChain(specs)
}
