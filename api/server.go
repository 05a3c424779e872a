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
  4. CORS:       Cross-origin requests for back-office frontends

ROUTE GROUPS:
  /api/distributors/*   Enrollment, network and statements
  /api/orders/*         Order intake and listing
  /api/runs/*           Monthly run execution and status
  /api/batches/*        Payout batch workflow
  /api/admin/*          Period reset (operator only)
  /api/plan             Active compensation plan

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  Admin and batch-approval routes need operator auth before production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Distributor routes
		r.Route("/distributors", func(r chi.Router) {
			r.Get("/", h.ListDistributors)
			r.Post("/", h.EnrollDistributor)
			r.Get("/{id}", h.GetDistributor)
			r.Post("/{id}/place", h.PlaceDistributor)
			r.Get("/{id}/downline", h.GetDownline)
			r.Get("/{id}/statement", h.GetStatement)
			r.Delete("/{id}", h.DeleteDistributor)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
		})

		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/{period}", h.ExecuteRun)
			r.Get("/{period}", h.GetRun)
			r.Get("/{period}/snapshots", h.GetSnapshots)
			r.Get("/{period}/records", h.GetRecords)
		})

		// Payout batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Get("/{period}", h.GetBatch)
			r.Post("/{period}/submit", h.SubmitBatch)
			r.Post("/{period}/approve", h.ApproveBatch)
			r.Post("/{period}/process", h.ProcessBatch)
			r.Post("/{period}/complete", h.CompleteBatch)
			r.Post("/{period}/cancel", h.CancelBatch)
			r.Get("/{period}/export", h.ExportBatch)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reset/{period}", h.ResetPeriod)
		})

		// Plan
		r.Get("/plan", h.GetPlan)
	})

	return r
}
