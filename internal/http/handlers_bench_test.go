package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-service/internal/cache"
	"github.com/kjstillabower/weather-history-service/internal/client"
	"github.com/kjstillabower/weather-history-service/internal/service"
	"github.com/kjstillabower/weather-history-service/internal/session"
)

// setupBenchmarkRouter creates a router over the sample client with one session
// holding rows observations spread over three cities.
func setupBenchmarkRouter(b *testing.B, rows int) (*mux.Router, string) {
	b.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	history := service.NewHistoryService(
		client.NewSampleClient(1, clock),
		session.NewRegistry(0, 0, nil),
		cache.NewInMemoryCache(),
		service.Options{},
	)
	ctx := context.Background()
	sess, err := history.CreateSession(ctx)
	if err != nil {
		b.Fatalf("CreateSession: %v", err)
	}
	cities := []string{"Seoul", "Busan", "Incheon"}
	for i := 0; i < rows; i++ {
		clock.Advance(time.Minute)
		if _, err := history.Record(ctx, sess.ID, cities[i%len(cities)]); err != nil {
			b.Fatalf("Record: %v", err)
		}
	}
	handler := NewHandler(history, &HealthConfig{}, zap.NewNop())
	return NewRouter(handler, zap.NewNop(), nil, 0), sess.ID
}

func benchmarkGet(b *testing.B, router *mux.Router, path string) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			b.Fatalf("status = %d", w.Code)
		}
	}
}

// BenchmarkHandler_GetStats_CacheHit benchmarks stats served from the summary cache.
func BenchmarkHandler_GetStats_CacheHit(b *testing.B) {
	router, id := setupBenchmarkRouter(b, 300)
	benchmarkGet(b, router, "/sessions/"+id+"/stats")
}

// BenchmarkHandler_ListObservations benchmarks the sorted table.
func BenchmarkHandler_ListObservations(b *testing.B) {
	for _, rows := range []int{10, 1000} {
		b.Run(fmt.Sprintf("rows=%d", rows), func(b *testing.B) {
			router, id := setupBenchmarkRouter(b, rows)
			benchmarkGet(b, router, "/sessions/"+id+"/observations")
		})
	}
}

// BenchmarkHandler_ExportCSV benchmarks the CSV download.
func BenchmarkHandler_ExportCSV(b *testing.B) {
	router, id := setupBenchmarkRouter(b, 1000)
	benchmarkGet(b, router, "/sessions/"+id+"/export.csv")
}

// BenchmarkHandler_RecordObservation benchmarks fetch and append with the sample client.
func BenchmarkHandler_RecordObservation(b *testing.B) {
	router, id := setupBenchmarkRouter(b, 0)
	path := "/sessions/" + id + "/observations?city=Seoul"
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusCreated {
			b.Fatalf("status = %d", w.Code)
		}
	}
}

// BenchmarkHandler_GetHealth benchmarks health endpoint.
func BenchmarkHandler_GetHealth(b *testing.B) {
	router, _ := setupBenchmarkRouter(b, 0)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}
}
