package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skalegrid/agentq/internal/observability"
)

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(h *Handlers, corsOrigin string, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(CORS(corsOrigin))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", observability.MetricsHandler())
	r.Get("/ws", h.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/tasks/{id}/comments", h.ListTaskComments)
		r.Post("/tasks/{id}/detect", h.DetectTask)
		r.Post("/tasks/{id}/approve", h.ApproveTask)
		r.Post("/tasks/{id}/reject", h.RejectTask)

		r.Post("/maintenance/run", h.RunMaintenance)
	})

	return r
}
