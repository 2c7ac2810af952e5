package api

import (
	"log/slog"
	"net/http"

	"github.com/etiennerc-wobz/payement-item-association/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// NewRouter builds the admin API. redisClient may be nil, in which case the
// ingestion routes run without the idempotency guard.
func NewRouter(h *Handlers, redisClient *redis.Client, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/associations", h.ListAssociations)
		r.Get("/dead-letters", h.ListDeadLetters)

		r.Group(func(r chi.Router) {
			if redisClient != nil {
				r.Use(middleware.Idempotency(redisClient))
			}
			r.Post("/events/payments", h.IngestPayment)
			r.Post("/events/items", h.IngestItems)
		})
	})

	logger.Info("registered admin routes",
		"routes", []string{
			"GET /health", "GET /metrics", "GET /v1/state", "GET /v1/associations",
			"GET /v1/dead-letters", "POST /v1/events/payments", "POST /v1/events/items",
		},
		"idempotency", redisClient != nil,
	)

	return r
}
