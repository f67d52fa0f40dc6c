/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. Recoverer:      Panic recovery (500 instead of crash)
  3. RequestLogger:  One structured log line per request
  4. CORS:           Cross-origin requests for frontend
  5. Authenticator:  Bearer-token auth on every /api route

ROUTE GROUPS:
  /api/accounts/*         Budget account hierarchy
  /api/subaccounts/*      Budget lines (money lives here)
  /api/suppliers/*        Supplier registry
  /api/purchase-orders/*  PO lifecycle (draft/submit/approve/reject)
  /api/invoices/*         Invoice lifecycle
  /api/reports/*          Summary, cost control, CSV export
  /healthz                Liveness probe, unauthenticated

SEE ALSO:
  - handlers.go: handler implementations
  - auth.go: actor resolution
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/slateworks/prodledger/logging"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, log *zap.Logger, jwtSecret []byte) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticator(jwtSecret))

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Get("/{id}/subaccounts", h.ListSubAccounts)
		})

		r.Route("/subaccounts", func(r chi.Router) {
			r.Post("/", h.CreateSubAccount)
			r.Get("/{id}", h.GetSubAccount)
			r.Put("/{id}", h.UpdateSubAccountBudget)
			r.Delete("/{id}", h.DeleteSubAccount)
		})

		r.Route("/suppliers", func(r chi.Router) {
			r.Get("/", h.ListSuppliers)
			r.Post("/", h.CreateSupplier)
			r.Get("/{id}", h.GetSupplier)
			r.Delete("/{id}", h.DeleteSupplier)
		})

		r.Route("/purchase-orders", func(r chi.Router) {
			r.Get("/", h.ListPurchaseOrders)
			r.Post("/", h.CreatePurchaseOrder)
			r.Get("/{id}", h.GetPurchaseOrder)
			r.Put("/{id}", h.UpdatePurchaseOrder)
			r.Delete("/{id}", h.DeletePurchaseOrder)
			r.Post("/{id}/submit", h.SubmitPurchaseOrder)
			r.Post("/{id}/approve", h.ApprovePurchaseOrder)
			r.Post("/{id}/reject", h.RejectPurchaseOrder)
			r.Post("/{id}/reopen", h.ReopenPurchaseOrder)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Put("/{id}", h.UpdateInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
			r.Post("/{id}/submit", h.SubmitInvoice)
			r.Post("/{id}/approve", h.ApproveInvoice)
			r.Post("/{id}/reject", h.RejectInvoice)
			r.Post("/{id}/reopen", h.ReopenInvoice)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", h.BudgetSummary)
			r.Get("/cost-control", h.CostControlReport)
			r.Get("/cost-control/export", h.ExportCostControl)
		})
	})

	return r
}
