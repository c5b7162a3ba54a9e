package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// The solve endpoint may legitimately run for the whole attempt budget.
	r.Use(middleware.Timeout(s.config.AttemptBudget() + 15*time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/health", s.handleHealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/solve", s.handleSolveRequest)
		r.Get("/attempts", s.handleAttemptStatus)
		r.Get("/logs", s.handleGetLogs)
		r.Delete("/logs", s.handleClearLogs)
	})

	return r
}
