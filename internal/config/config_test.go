package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "dev.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write dev.yaml: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write secrets.yaml: %v", err)
	}
}

// cleanEnv clears every variable Load reads so host settings cannot leak into tests.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "WEATHER_API_KEY", "CACHE_BACKEND", "MEMCACHED_ADDRS"} {
		t.Setenv(k, "")
	}
}

func TestLoadFrom_SampleModeWithoutAPIKey(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if !cfg.SampleMode {
		t.Error("SampleMode = false, want true when no API key is configured")
	}
	if cfg.WeatherAPIKey != "" {
		t.Errorf("WeatherAPIKey = %q, want empty", cfg.WeatherAPIKey)
	}
}

func TestLoadFrom_SecretsFile(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
	if cfg.SampleMode {
		t.Error("SampleMode = true, want false with an API key")
	}
}

func TestLoadFrom_EnvVarWinsOverSecrets(t *testing.T) {
	cleanEnv(t)
	t.Setenv("WEATHER_API_KEY", "key-from-env")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-env" {
		t.Errorf("WeatherAPIKey = %q, want key-from-env", cfg.WeatherAPIKey)
	}
}

func TestLoadFrom_EnvFileNotFound(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")

	_, err := LoadFrom(t.TempDir())
	if err == nil {
		t.Fatal("LoadFrom() expected error for missing env file, got nil")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("LoadFrom() error = %v, want 'config file not found'", err)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		secrets string
		wantMsg string
	}{
		{"config", "server: [unclosed", "", "parse config file"},
		{"secrets", minimalEnvYAML, "weather_api_key: [unclosed", "parse secrets file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			dir := t.TempDir()
			writeEnvFile(t, dir, tt.env)
			if tt.secrets != "" {
				writeSecretsFile(t, dir, tt.secrets)
			}
			_, err := LoadFrom(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("LoadFrom() error = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "server:\n  port: \"9090\"\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "9090"},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "https://api.openweathermap.org/data/2.5/weather"},
		{"WeatherAPITimeout", cfg.WeatherAPITimeout, 2 * time.Second},
		{"WeatherAPILang", cfg.WeatherAPILang, "kr"},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"SummaryTTL", cfg.SummaryTTL, 10 * time.Minute},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 5},
		{"SessionIdleTTL", cfg.SessionIdleTTL, 30 * time.Minute},
		{"SessionMaxCount", cfg.SessionMaxCount, 1000},
		{"CityMaxLen", cfg.CityMaxLen, 100},
		{"TrafficWindow", cfg.TrafficWindow, 60 * time.Second},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 50},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFrom_FullConfig(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
sample:
  seed: 42
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
  circuit_breaker:
    enabled: false
    failure_threshold: 3
    timeout: "45s"
session:
  idle_ttl: "0s"
  max_sessions: 50
  sweep_interval: "10s"
validation:
  city_min_len: 2
  city_max_len: 64
shutdown:
  timeout: "10s"
lifecycle:
  ready_delay: "0s"
  traffic_window: "2m"
  degraded_error_pct: 25
metrics:
  tracked_cities: ["Seoul", "Busan"]
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.SampleSeed != 42 {
		t.Errorf("SampleSeed = %d, want 42", cfg.SampleSeed)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false")
	}
	if cfg.CircuitBreakerFailureThreshold != 3 || cfg.CircuitBreakerTimeout != 45*time.Second {
		t.Errorf("circuit breaker = %d/%v, want 3/45s", cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerTimeout)
	}
	if cfg.SessionIdleTTL != 0 {
		t.Errorf("SessionIdleTTL = %v, want 0 (expiry disabled)", cfg.SessionIdleTTL)
	}
	if cfg.SessionMaxCount != 50 || cfg.SessionSweepInterval != 10*time.Second {
		t.Errorf("session = %d/%v, want 50/10s", cfg.SessionMaxCount, cfg.SessionSweepInterval)
	}
	if cfg.CityMinLen != 2 || cfg.CityMaxLen != 64 {
		t.Errorf("city len = %d..%d, want 2..64", cfg.CityMinLen, cfg.CityMaxLen)
	}
	if cfg.ReadyDelay != 0 || cfg.TrafficWindow != 2*time.Minute || cfg.DegradedErrorPct != 25 {
		t.Errorf("lifecycle = %v/%v/%d", cfg.ReadyDelay, cfg.TrafficWindow, cfg.DegradedErrorPct)
	}
	if len(cfg.TrackedCities) != 2 || cfg.TrackedCities[0] != "Seoul" {
		t.Errorf("TrackedCities = %v", cfg.TrackedCities)
	}
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("CACHE_BACKEND", " Memcached ")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
}

func TestLoadFrom_DurationFallbacks(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "not-a-duration"
shutdown:
  timeout: ""
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPITimeout != 2*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want default 2s", cfg.WeatherAPITimeout)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want default 30s", cfg.ShutdownTimeout)
	}
}

func TestLoadFrom_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"zero api timeout", "weather_api:\n  timeout: \"0s\"\n", "weather_api.timeout"},
		{"bad cache backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"negative idle ttl", "session:\n  idle_ttl: \"-1m\"\n", "session.idle_ttl"},
		{"min over max", "validation:\n  city_min_len: 10\n  city_max_len: 5\n", "city_min_len"},
		{"degraded pct over 100", "lifecycle:\n  degraded_error_pct: 150\n", "degraded_error_pct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			dir := t.TempDir()
			writeEnvFile(t, dir, tt.yaml)
			cfg, err := LoadFrom(dir)
			if err == nil {
				t.Fatalf("LoadFrom() = %+v, want error", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("LoadFrom() error = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidate_RaisesRequestTimeout(t *testing.T) {
	cfg := &Config{
		WeatherAPITimeout: 3 * time.Second,
		RequestTimeout:    2 * time.Second,
		CacheBackend:      "in_memory",
		CityMinLen:        1,
		CityMaxLen:        100,
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if cfg.RequestTimeout != 4*time.Second {
		t.Errorf("RequestTimeout = %v, want 4s", cfg.RequestTimeout)
	}
}

func TestLoad_UsesWorkingDirectory(t *testing.T) {
	cleanEnv(t)
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	writeEnvFile(t, filepath.Join(dir, "config"), minimalEnvYAML)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}
