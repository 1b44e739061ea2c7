/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/accounts/*      Accounts, ledger, positions, withdrawals
  /api/withdrawals/*   Withdrawal lookup
  /api/admin/*         Decisions and manual accrual
  /api/gateway/*       Signed payment callbacks
  /api/chain/*         Direct transfer injection (dev)

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
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Gateway-Signature"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/audit", h.GetAudit)
			r.Get("/{id}/deposits", h.ListDeposits)
			r.Get("/{id}/positions", h.ListPositions)
			r.Post("/{id}/positions", h.OpenPosition)
			r.Get("/{id}/withdrawals", h.ListWithdrawals)
			r.Post("/{id}/withdrawals", h.CreateWithdrawal)
		})

		// Withdrawal routes
		r.Route("/withdrawals", func(r chi.Router) {
			r.Get("/{id}", h.GetWithdrawal)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/withdrawals/{id}/decision", h.DecideWithdrawal)
			r.Post("/accrue", h.TriggerAccrual)
		})

		// Ingestion routes
		r.Post("/gateway/callback", h.GatewayCallback)
		r.Post("/chain/transfers", h.InjectTransfer)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
