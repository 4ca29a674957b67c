package api

import (
	"log/slog"
	"net/http"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/api/middleware"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP surface. requests deduplicates Idempotency-Key
// headers on state-changing routes; nil disables it.
func NewRouter(h *Handlers, requests idempotency.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		if requests != nil {
			r.Use(middleware.Idempotency(requests, slog.Default()))
		}
		r.Post("/orders", h.CreateOrder)
		r.Post("/orders/{id}/refund", h.RequestRefund)
	})

	if h.getDeliveriesUC != nil {
		r.Get("/events/{id}/deliveries", h.GetDeliveries)
	}

	r.Handle("/metrics", promhttp.Handler())

	return r
}
