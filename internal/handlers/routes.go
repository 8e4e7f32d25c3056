package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/greencredits/report-server/internal/middleware"
)

// API groups the handlers served under /api/v1.
type API struct {
	Reports   *ReportHandler
	Workers   *WorkerHandler
	Admin     *AdminHandler
	Credits   *CreditHandler
	Zones     *ZoneHandler
	Events    *EventHandler
	Health    *HealthHandler
	Integrity *IntegrityHandler
	JWTSecret string
}

// Mount registers every API route on r.
func (a *API) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", a.Health.Check)
		r.Get("/health/ready", a.Health.Ready)

		// Public reference data
		r.Get("/zones", a.Zones.List)
		r.Get("/zones/route", a.Zones.Route)
		r.Get("/rewards", a.Credits.Rewards)
		r.Get("/leaderboard", a.Credits.Leaderboard)
		r.Get("/heatmap", a.Reports.Heatmap)
		r.Get("/events/stream", a.Events.Stream)

		// Integrity endpoints (Merkle tree over the credit ledger)
		r.Route("/integrity", func(r chi.Router) {
			r.Get("/root", a.Integrity.GetRoot)
			r.Get("/proof/{index}", a.Integrity.GetProof)
			r.Post("/verify", a.Integrity.Verify)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(a.JWTSecret))

			r.Route("/reports", func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleCitizen, middleware.RoleOfficer, middleware.RoleAdmin))
				r.With(middleware.RequireRole(middleware.RoleCitizen)).Post("/", a.Reports.Submit)
				r.With(middleware.RequireRole(middleware.RoleCitizen)).Get("/mine", a.Reports.Mine)
				r.Get("/{seq}", a.Reports.Get)
				r.Get("/{seq}/events", a.Reports.Events)
			})

			r.Route("/credits", func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleCitizen))
				r.Get("/", a.Credits.Summary)
				r.Post("/account", a.Credits.OpenAccount)
				r.Get("/transactions", a.Credits.Transactions)
				r.Post("/redeem", a.Credits.Redeem)
			})

			r.Route("/worker", func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleWorker))
				r.Get("/reports", a.Workers.Queue)
				r.Post("/reports/{seq}/accept", a.Workers.Accept)
				r.Post("/reports/{seq}/complete", a.Workers.Complete)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleOfficer, middleware.RoleAdmin))
				r.Get("/reports", a.Admin.List)
				r.Get("/stats", a.Admin.Stats)
				r.Post("/reports/{seq}/verify", a.Admin.Verify)
				r.Post("/reports/{seq}/reject", a.Admin.Reject)
				r.Post("/reports/{seq}/assign", a.Admin.Assign)
				r.Post("/workers", a.Admin.RegisterWorker)
				r.With(middleware.RequireRole(middleware.RoleAdmin)).Post("/integrity/run", a.Integrity.Run)
			})
		})
	})
}
