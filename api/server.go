/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/fiscal-years/*   Fiscal year setup, quarterly release, finalization
  /api/heads/*          Chart of accounts
  /api/allocations/*    Budget allocations
  /api/payees/*         Payee master records
  /api/bills/*          Bill workflow (submit/audit/verify/approve/pay)
  /api/vouchers/*       Posted vouchers and reversals
  /api/tax/*            Rate configurations and withholding previews
  /api/establishment/*  Sanctioned-post entries

SECURITY NOTE:
  The engine trusts the X-Org-Id/X-Actor-* headers set by the host
  application. No authentication middleware here; run behind a gateway
  that strips and re-sets these headers.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Org-Id", "X-Actor-Id", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Fiscal year routes
		r.Route("/fiscal-years", func(r chi.Router) {
			r.Post("/", h.CreateFiscalYear)
			r.Get("/{name}", h.GetFiscalYear)
			r.Post("/{name}/release/{quarter}", h.ReleaseQuarter)
			r.Post("/{name}/finalize", h.FinalizeBudget)
			r.Get("/{name}/sae", h.GetSAERecord)
		})

		// Chart of accounts routes
		r.Route("/heads", func(r chi.Router) {
			r.Post("/", h.CreateHead)
			r.Get("/{id}", h.GetHead)
		})

		// Allocation routes
		r.Route("/allocations", func(r chi.Router) {
			r.Get("/", h.ListAllocations)
			r.Post("/", h.EnterAllocation)
			r.Get("/{head}/available", h.GetAvailable)
		})

		// Payee routes
		r.Route("/payees", func(r chi.Router) {
			r.Get("/", h.ListPayees)
			r.Post("/", h.CreatePayee)
		})

		// Bill workflow routes
		r.Route("/bills", func(r chi.Router) {
			r.Get("/", h.ListBills)
			r.Post("/", h.CreateBill)
			r.Get("/{id}", h.GetBill)
			r.Get("/{id}/payments", h.ListBillPayments)
			r.Post("/{id}/submit", h.SubmitBill)
			r.Post("/{id}/pre-audit", h.PreAuditBill)
			r.Post("/{id}/verify", h.VerifyBill)
			r.Post("/{id}/approve", h.ApproveBill)
			r.Post("/{id}/reject", h.RejectBill)
			r.Post("/{id}/pay", h.PayBill)
		})

		// Voucher routes
		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/{id}", h.GetVoucher)
			r.Post("/{id}/reverse", h.ReverseVoucher)
		})

		// Tax routes
		r.Route("/tax", func(r chi.Router) {
			r.Post("/preview", h.PreviewTax)
			r.Get("/configs", h.ListRateConfigs)
			r.Post("/configs", h.CreateRateConfig)
			r.Post("/configs/{id}/activate", h.ActivateRateConfig)
		})

		// Establishment routes
		r.Route("/establishment", func(r chi.Router) {
			r.Get("/", h.ListEstablishmentEntries)
			r.Post("/", h.CreateEstablishmentEntry)
			r.Post("/{id}/transition", h.TransitionEstablishmentEntry)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
