package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-service/internal/aggregate"
	"github.com/kjstillabower/weather-history-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-history-service/internal/client"
	"github.com/kjstillabower/weather-history-service/internal/lifecycle"
	"github.com/kjstillabower/weather-history-service/internal/models"
	"github.com/kjstillabower/weather-history-service/internal/observability"
	"github.com/kjstillabower/weather-history-service/internal/service"
	"github.com/kjstillabower/weather-history-service/internal/session"
	"github.com/kjstillabower/weather-history-service/internal/traffic"
	"github.com/kjstillabower/weather-history-service/internal/validation"
)

// HealthConfig holds the inputs for the health handler.
type HealthConfig struct {
	TrafficWindow    time.Duration
	DegradedErrorPct int
	SampleMode       bool
	StartTime        time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// BreakerState, when set, reports the weather API circuit breaker state.
	BreakerState func() circuitbreaker.State
	// ActiveSessions, when set, reports the live session count.
	ActiveSessions func() int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	history          *service.HistoryService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(history *service.HistoryService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		history:      history,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type sessionResponse struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

type observationsResponse struct {
	Count        int                  `json:"count"`
	Observations []models.Observation `json:"observations"`
}

type cityGroupResponse struct {
	City         string               `json:"city"`
	Count        int                  `json:"count"`
	Observations []models.Observation `json:"observations"`
}

type seriesResponse struct {
	Field  aggregate.Field        `json:"field"`
	Series []aggregate.CitySeries `json:"series"`
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.history.CreateSession(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, CreatedAt: sess.CreatedAt.UTC()})
}

// DeleteSession handles DELETE /sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.history.EndSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordObservation handles POST /sessions/{id}/observations?city=.
func (h *Handler) RecordObservation(w http.ResponseWriter, r *http.Request) {
	obs, err := h.history.Record(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("city"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, obs)
}

// ListObservations handles GET /sessions/{id}/observations, newest first.
// ?city= restricts the table to one city.
func (h *Handler) ListObservations(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	rows, err := h.history.Table(r.Context(), mux.Vars(r)["id"], city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, observationsResponse{Count: len(rows), Observations: nonNil(rows)})
}

// ClearObservations handles DELETE /sessions/{id}/observations.
func (h *Handler) ClearObservations(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Clear(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCities handles GET /sessions/{id}/cities in first-appearance order.
func (h *Handler) ListCities(w http.ResponseWriter, r *http.Request) {
	groups, err := h.history.Groups(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := make([]cityGroupResponse, 0, groups.Len())
	for _, g := range groups.List() {
		resp = append(resp, cityGroupResponse{City: g.City, Count: len(g.Observations), Observations: g.Observations})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cities": resp})
}

// GetStats handles GET /sessions/{id}/stats?fields=temperature,humidity.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	fields, err := aggregate.ParseFields(r.URL.Query().Get("fields"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	stats, err := h.history.Describe(r.Context(), mux.Vars(r)["id"], fields)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetSeries handles GET /sessions/{id}/series?field=temperature.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	field := aggregate.FieldTemperature
	if name := strings.TrimSpace(r.URL.Query().Get("field")); name != "" {
		f, err := aggregate.ParseField(name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		field = f
	}
	series, err := h.history.Series(r.Context(), mux.Vars(r)["id"], field)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if series == nil {
		series = []aggregate.CitySeries{}
	}
	writeJSON(w, http.StatusOK, seriesResponse{Field: field, Series: series})
}

// ExportCSV handles GET /sessions/{id}/export.csv. ?city= exports one city's group.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	export, err := h.history.Export(r.Context(), mux.Vars(r)["id"], city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", export.ContentDisposition())
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "circuit_open" || result.reason == "error_rate_breach" {
		checks["weatherApi"] = "unhealthy"
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-history-service",
		"version":   "dev",
		"mode":      "live",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if cfg := h.healthConfig; cfg != nil {
		if cfg.SampleMode {
			resp["mode"] = "sample"
		}
		if cfg.CachePing != nil {
			if cfg.CachePing() == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
		}
		if cfg.ActiveSessions != nil {
			resp["sessions"] = cfg.ActiveSessions()
		}
		if !cfg.StartTime.IsZero() {
			resp["uptime"] = time.Since(cfg.StartTime).Truncate(time.Second).String()
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus determines the current health status by evaluating conditions
// in priority order: shutting-down > starting > circuit open > error rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	switch lifecycle.Current() {
	case lifecycle.PhaseShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.PhaseStarting:
		return healthResult{"starting", http.StatusServiceUnavailable, "ready_delay"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.BreakerState != nil && h.healthConfig.BreakerState() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig.TrafficWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.TrafficWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	observability.HTTPErrorsTotal.WithLabelValues(code).Inc()
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// apiError is the client-facing form of a service error.
type apiError struct {
	status  int
	code    string
	message string
}

// classifyError maps service errors to HTTP status, API code and a safe message.
func classifyError(err error) apiError {
	var fe *models.FieldError
	switch {
	case errors.Is(err, validation.ErrInvalidCity):
		return apiError{http.StatusBadRequest, "INVALID_LOCATION", strings.TrimPrefix(unwrapMessage(err, validation.ErrInvalidCity), "invalid city: ")}
	case errors.Is(err, aggregate.ErrUnknownField):
		return apiError{http.StatusBadRequest, "INVALID_FIELD", unwrapMessage(err, aggregate.ErrUnknownField)}
	case errors.Is(err, session.ErrSessionNotFound):
		return apiError{http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found or expired"}
	case errors.Is(err, session.ErrTooManySessions):
		return apiError{http.StatusServiceUnavailable, "TOO_MANY_SESSIONS", "Session capacity reached, try again later"}
	case errors.Is(err, client.ErrLocationNotFound):
		return apiError{http.StatusNotFound, "LOCATION_NOT_FOUND", "City not found"}
	case errors.As(err, &fe):
		return apiError{http.StatusBadGateway, "MALFORMED_OBSERVATION", "Weather source returned an invalid " + fe.Field}
	case errors.Is(err, models.ErrMalformedObservation):
		return apiError{http.StatusBadGateway, "MALFORMED_OBSERVATION", "Weather source returned an invalid record"}
	default:
		return apiError{http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"}
	}
}

// unwrapMessage returns the error text starting at the sentinel, dropping
// operation prefixes added by wrapping layers.
func unwrapMessage(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()); i > 0 {
		return msg[i:]
	}
	return msg
}

// writeServiceError maps err to the API error format.
// Logs the underlying error at DEBUG level if logger is available in request context.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e := classifyError(err)
	writeError(w, r, e.status, e.code, e.message)
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("request failed", zap.String("code", e.code), zap.Error(err))
	}
}

func nonNil(rows []models.Observation) []models.Observation {
	if rows == nil {
		return []models.Observation{}
	}
	return rows
}
