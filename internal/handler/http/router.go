package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NeuronioAzul/car-dealership-sub000/pkg/health"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/middleware"
)

// NewRouter builds the orchestrator's HTTP router: saga endpoints under
// /api/v1, health probes and the Prometheus metrics endpoint.
func NewRouter(handler *SagaHandler, healthHandler *health.Handler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Metrics)

	r.Route("/api/v1/sagas", func(r chi.Router) {
		r.Post("/", handler.Start)
		r.Get("/", handler.List)
		r.Get("/{id}", handler.Get)
		r.Post("/{id}/cancel", handler.Cancel)
	})

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	return r
}
