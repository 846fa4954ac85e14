package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/wipfli/immich/internal/metrics"
	"github.com/wipfli/immich/internal/web/handlers"
	"github.com/wipfli/immich/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Health)
	searchHandler := handlers.NewSearchHandler(s.deps.Search)
	peopleHandler := handlers.NewPeopleHandler(s.deps.Persons)
	systemConfigHandler := handlers.NewSystemConfigHandler(s.deps.Search)

	// Health check and metrics (no owner required)
	s.router.Get("/api/v1/health", healthHandler.Check)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOwner)

			// Search
			r.Get("/search", searchHandler.Search)
			r.Get("/search/explore", searchHandler.Explore)

			// People
			r.Get("/people", peopleHandler.List)
			r.Put("/people/{id}/reassign", peopleHandler.Reassign)
			r.Post("/people/{id}/merge", peopleHandler.Merge)
		})

		// System config
		r.Get("/system-config", systemConfigHandler.Get)
		r.Post("/system-config/reload", systemConfigHandler.Reload)
	})
}
