package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes returns the full HTTP surface: payment API, webhooks, the internal
// upgrade endpoint, health and metrics.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	if h.config.MetricsHandler != nil {
		r.Handle("/metrics", h.config.MetricsHandler)
	}

	r.Route("/api/payment", func(r chi.Router) {
		r.Post("/create", h.CreateIntent)
		r.Get("/decode", h.DecodeIntent)
		r.Get("/status", h.Status)
		r.Post("/verify", h.Verify)
		r.Post("/fail", h.Fail)
	})

	for _, p := range h.config.Providers {
		r.Handle("/api/webhooks/"+p.Name(), p.WebhookHandler())
	}

	if h.config.InternalToken != "" {
		r.Post("/internal/subscription/upgrade", h.Upgrade)
	}
	return r
}
