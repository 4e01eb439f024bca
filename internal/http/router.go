package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-history-service/internal/observability"
)

// NewRouter registers the dashboard API, /health and /metrics. Only the fetch route
// is rate limited and bounded by requestTimeout since it is the one calling the weather API.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.HandleFunc("/sessions", h.CreateSession).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}", h.DeleteSession).Methods(http.MethodDelete)
	sessions := router.PathPrefix("/sessions/{id}").Subrouter()

	var fetch http.Handler = http.HandlerFunc(h.RecordObservation)
	fetch = TimeoutMiddleware(requestTimeout)(fetch)
	fetch = RateLimitMiddleware(limiter)(fetch)
	sessions.Handle("/observations", fetch).Methods(http.MethodPost)

	sessions.HandleFunc("/observations", h.ListObservations).Methods(http.MethodGet)
	sessions.HandleFunc("/observations", h.ClearObservations).Methods(http.MethodDelete)
	sessions.HandleFunc("/cities", h.ListCities).Methods(http.MethodGet)
	sessions.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	sessions.HandleFunc("/series", h.GetSeries).Methods(http.MethodGet)
	sessions.HandleFunc("/export.csv", h.ExportCSV).Methods(http.MethodGet)

	return router
}
