package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-history-service/internal/observability"
	"github.com/kjstillabower/weather-history-service/internal/traffic"
)

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	var gotID string
	var gotLogger bool
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = r.Context().Value("correlation_id").(string)
		_, gotLogger = r.Context().Value("logger").(*zap.Logger)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if gotID != "abc-123" {
		t.Errorf("context correlation_id = %q, want abc-123", gotID)
	}
	if !gotLogger {
		t.Error("request logger missing from context")
	}
	if h := w.Header().Get("X-Correlation-ID"); h != "abc-123" {
		t.Errorf("X-Correlation-ID header = %q, want abc-123", h)
	}
}

func TestMiddleware_CorrelationIDGenerated(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if len(w.Header().Get("X-Correlation-ID")) != 36 {
		t.Errorf("generated id = %q, want a uuid", w.Header().Get("X-Correlation-ID"))
	}
}

func TestMiddleware_RequestLoggerCarriesCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		observability.LoggerFromContext(r.Context(), nil).Info("inside")
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", "corr-9")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("inside").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ContextMap()["correlation_id"] != "corr-9" {
		t.Errorf("correlation_id field = %v", entries[0].ContextMap()["correlation_id"])
	}
}

// TestMiddleware_MetricsUsesRouteTemplate verifies session ids are not used as route labels.
func TestMiddleware_MetricsUsesRouteTemplate(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := env.newSession(t)
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/sessions/{id}/observations", "2xx")
	before := testutil.ToFloat64(counter)

	env.do(t, http.MethodGet, "/sessions/"+id+"/observations")

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("requests counter delta = %v, want 1", got)
	}
}

func TestMiddleware_MetricsRecordsNonOK(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/sessions/{id}/stats", "4xx")
	before := testutil.ToFloat64(counter)

	env.do(t, http.MethodGet, "/sessions/missing/stats")

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("4xx counter delta = %v, want 1", got)
	}
}

func TestMiddleware_MetricsTracksInFlight(t *testing.T) {
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if during < 1 {
		t.Errorf("in-flight during request = %d, want >= 1", during)
	}
	if InFlightCount() != 0 {
		t.Errorf("in-flight after request = %d, want 0", InFlightCount())
	}
}

func TestGetRoute_Fallback(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/sessions", "/sessions"},
		{"/sessions/abc/stats", "/sessions/{id}"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		if got := getRoute(httptest.NewRequest(http.MethodGet, tt.path, nil)); got != tt.want {
			t.Errorf("getRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMiddleware_MetricsRoute(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodGet, "/metrics")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.client.block = make(chan struct{})
	defer close(env.client.block)
	env.router = NewRouter(env.handler, zap.NewNop(), nil, 50*time.Millisecond)
	id := env.newSession(t)

	w := env.do(t, http.MethodPost, "/sessions/"+id+"/observations?city=Seoul")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d (timeout should surface as upstream error)", w.Code, http.StatusServiceUnavailable)
	}
}

func TestTimeoutMiddleware_ZeroDisabled(t *testing.T) {
	var hasDeadline bool
	h := TimeoutMiddleware(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if hasDeadline {
		t.Error("zero timeout should not set a deadline")
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	before := testutil.ToFloat64(observability.RateLimitDeniedTotal)
	limiter := rate.NewLimiter(1, 2)
	h := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/sessions/x/observations", nil)
		req = req.WithContext(context.WithValue(req.Context(), "correlation_id", "rl"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		body := decodeError(t, w)
		if body.Error.Code != "RATE_LIMITED" || body.Error.RequestID != "rl" {
			t.Errorf("error = %+v", body.Error)
		}
		if w.Header().Get("Retry-After") == "" {
			t.Error("Retry-After header missing")
		}
	}
	if got := testutil.ToFloat64(observability.RateLimitDeniedTotal) - before; got != 1 {
		t.Errorf("denied counter delta = %v, want 1", got)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	h := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	if !called {
		t.Error("nil limiter should allow")
	}
}
