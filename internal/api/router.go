// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkessl/vigilium/internal/config"
)

// loginRateLimit bounds login attempts per client IP, independent of
// the general API limit.
const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// NewRouter wires the full HTTP surface: health probes, Prometheus
// metrics, authentication, the audit API, and the alert websocket.
func NewRouter(h *Handler, sec *config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   sec.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Probes stay unauthenticated and lightly limited so orchestrators
	// are never locked out.
	r.Route("/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Get("/live", h.Live)
		r.Get("/ready", h.Ready)
		r.Get("/", h.Health)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(MetricsMiddleware)
		r.Use(LoggingMiddleware)

		r.Route("/auth", func(r chi.Router) {
			r.Use(httprate.LimitByIP(loginRateLimit, loginRateWindow))
			r.Post("/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(sec.RateLimitRequests, sec.RateLimitWindow))
			r.Use(AuthMiddleware(h.jwt))

			r.Route("/audit", func(r chi.Router) {
				r.Post("/events", h.IngestEvent)
				r.Get("/records", h.ListRecords)
				r.Get("/records/{id}", h.GetRecord)
				r.Get("/records/{id}/chain", h.GetChain)
				r.Get("/stats", h.GetStats)
				r.Get("/export", h.ExportRecords)
			})

			r.Get("/alerts/ws", h.AlertStream)
		})
	})

	return r
}
