//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/weather-history-service/internal/cache"
	"github.com/kjstillabower/weather-history-service/internal/client"
	"github.com/kjstillabower/weather-history-service/internal/service"
	"github.com/kjstillabower/weather-history-service/internal/session"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// SampleMode reports whether tests run against the synthetic weather source.
func (c IntegrationTestConfig) SampleMode() bool {
	return c.APIKey == ""
}

// GetIntegrationConfig loads integration test configuration from environment.
// Without WEATHER_API_KEY the stack runs on the sample client.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		APIKey:        os.Getenv("WEATHER_API_KEY"),
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// RequireLiveAPI skips the test unless a real API key is configured.
func RequireLiveAPI(t *testing.T, cfg IntegrationTestConfig) {
	t.Helper()
	if cfg.SampleMode() {
		t.Skip("WEATHER_API_KEY not set, skipping live API test")
	}
}

// SetupIntegrationService creates a fully configured service for integration tests.
// Returns the history service, cache instance, and cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.HistoryService, cache.Cache, func()) {
	t.Helper()
	var cacheSvc cache.Cache
	cleanup := func() {}
	cacheType := "in_memory"

	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			cacheType = "memcached"
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
		}
	}
	if cacheSvc == nil {
		cacheSvc = cache.NewInMemoryCache()
	}

	history := service.NewHistoryService(
		SetupIntegrationClient(t, cfg),
		session.NewRegistry(30*time.Minute, 100, nil),
		cacheSvc,
		service.Options{CacheType: cacheType, CoalesceTimeout: 2 * time.Second},
	)
	return history, cacheSvc, cleanup
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.WeatherClient {
	t.Helper()
	if cfg.SampleMode() {
		return client.NewSampleClient(time.Now().UnixNano(), clockwork.NewRealClock())
	}
	c, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	c.SetLanguage("kr")
	return c
}
