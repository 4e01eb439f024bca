package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-history-service/internal/cache"
	"github.com/kjstillabower/weather-history-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-history-service/internal/client"
	"github.com/kjstillabower/weather-history-service/internal/config"
	httphandler "github.com/kjstillabower/weather-history-service/internal/http"
	"github.com/kjstillabower/weather-history-service/internal/lifecycle"
	"github.com/kjstillabower/weather-history-service/internal/observability"
	"github.com/kjstillabower/weather-history-service/internal/service"
	"github.com/kjstillabower/weather-history-service/internal/session"
)

const inFlightCheckInterval = 50 * time.Millisecond

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, breaker, err := newWeatherClient(cfg, logger)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if !cfg.SampleMode {
		validateCtx, validateCancel := context.WithTimeout(context.Background(), cfg.WeatherAPITimeout)
		if err := weatherClient.ValidateAPIKey(validateCtx); err != nil {
			logger.Warn("weather API key check failed", zap.Error(err))
		}
		validateCancel()
	}

	summaries, memcacheCloser, err := newSummaryCache(cfg)
	if err != nil {
		logger.Fatal("summary cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cacheType(cfg)))

	sessions := session.NewRegistry(cfg.SessionIdleTTL, cfg.SessionMaxCount, clockwork.NewRealClock())
	sessions.OnChange(func(active int) { observability.ActiveSessions.Set(float64(active)) })
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go sessions.Run(runCtx, cfg.SessionSweepInterval)

	history := service.NewHistoryService(weatherClient, sessions, summaries, service.Options{
		SummaryTTL:      cfg.SummaryTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
		CacheType:       cacheType(cfg),
		MinCityLen:      cfg.CityMinLen,
		MaxCityLen:      cfg.CityMaxLen,
	})

	healthConfig := &httphandler.HealthConfig{
		TrafficWindow:    cfg.TrafficWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		SampleMode:       cfg.SampleMode,
		StartTime:        time.Now(),
		ActiveSessions:   sessions.Len,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}
	if breaker != nil {
		healthConfig.BreakerState = breaker.State
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(history, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	observability.RegisterRateLimitGauges(cfg.TrafficWindow)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.Bool("sample_mode", cfg.SampleMode))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	readyTimer := time.NewTimer(cfg.ReadyDelay)
	select {
	case <-readyTimer.C:
		lifecycle.SetReady()
		logger.Info("service ready")
	case <-ctx.Done():
		readyTimer.Stop()
	}

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
	runCancel()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newWeatherClient returns the sample client in sample mode, otherwise the
// OpenWeatherMap client with retries and, when enabled, a circuit breaker.
func newWeatherClient(cfg *config.Config, logger *zap.Logger) (client.WeatherClient, *circuitbreaker.CircuitBreaker, error) {
	if cfg.SampleMode {
		logger.Warn("no weather API key configured; serving sample observations")
		return client.NewSampleClient(cfg.SampleSeed, clockwork.NewRealClock()), nil, nil
	}

	owc, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, nil, err
	}
	owc.SetLanguage(cfg.WeatherAPILang)

	if !cfg.CircuitBreakerEnabled {
		return owc, nil, nil
	}
	const component = "weather_api"
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		IsFailure:        client.CountsAsUpstreamFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
			observability.SetCircuitBreakerStateGauge(component, observability.CircuitBreakerStateValue(int(to)))
			logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	owc.SetCircuitBreaker(cb)
	observability.SetCircuitBreakerStateGauge(component, 0)
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
		zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	return owc, cb, nil
}

// newSummaryCache builds the configured summary cache. The memcached handle is
// returned separately so main can ping and close it.
func newSummaryCache(cfg *config.Config) (cache.Cache, *cache.MemcachedCache, error) {
	if cfg.CacheBackend != "memcached" {
		return cache.NewInMemoryCache(), nil, nil
	}
	mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	if err != nil {
		return nil, nil, err
	}
	return mc, mc, nil
}

func cacheType(cfg *config.Config) string {
	if cfg.CacheBackend == "memcached" {
		return "memcached"
	}
	return "in_memory"
}
