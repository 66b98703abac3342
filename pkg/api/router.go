// Package api serves the operator endpoints: health, metrics and the
// effective configuration.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dskvich/gemini-telegram-bot/pkg/api/handler"
)

func NewRouter(cfg handler.ConfigSource, sessions handler.SessionCounter, gatherer prometheus.Gatherer) http.Handler {
	admin := handler.NewAdmin(cfg, sessions)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", admin.Health)
	r.Get("/config", admin.Config)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
