package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-service/internal/aggregate"
	"github.com/kjstillabower/weather-history-service/internal/cache"
	"github.com/kjstillabower/weather-history-service/internal/client"
	"github.com/kjstillabower/weather-history-service/internal/history"
	"github.com/kjstillabower/weather-history-service/internal/models"
	"github.com/kjstillabower/weather-history-service/internal/observability"
	"github.com/kjstillabower/weather-history-service/internal/session"
	"github.com/kjstillabower/weather-history-service/internal/traffic"
	"github.com/kjstillabower/weather-history-service/internal/validation"
)

// Options tunes a HistoryService. Zero values fall back to defaults.
type Options struct {
	// SummaryTTL is how long memoized Describe results live in the cache.
	SummaryTTL time.Duration
	// CoalesceTimeout bounds how long a caller waits on an identical in-flight Describe.
	// Zero disables coalescing.
	CoalesceTimeout time.Duration
	// CacheType labels cache metrics ("in_memory", "memcached").
	CacheType string
	// MinCityLen and MaxCityLen bound city input, in runes.
	MinCityLen int
	MaxCityLen int
}

// CityStats is the Describe table for one city group.
type CityStats struct {
	City      string                   `json:"city"`
	Summaries []aggregate.FieldSummary `json:"summaries"`
}

// Stats is the statistics panel: one table for the whole history and one per city.
type Stats struct {
	Overall []aggregate.FieldSummary `json:"overall"`
	Cities  []CityStats              `json:"cities"`
}

// Export is a CSV download.
type Export struct {
	Filename string
	Data     []byte
	Rows     int
}

// ContentDisposition returns the attachment header value for the export.
func (e Export) ContentDisposition() string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": e.Filename})
}

// HistoryService wires the weather source, per-session histories and the
// aggregation view behind the dashboard's operations.
type HistoryService struct {
	client    client.WeatherClient
	sessions  *session.Registry
	cache     cache.Cache
	coalescer *summaryCoalescer
	opts      Options
}

// NewHistoryService creates a HistoryService with the provided dependencies.
func NewHistoryService(c client.WeatherClient, sessions *session.Registry, summaries cache.Cache, opts Options) *HistoryService {
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 10 * time.Minute
	}
	if opts.CacheType == "" {
		opts.CacheType = "in_memory"
	}
	if opts.MinCityLen <= 0 {
		opts.MinCityLen = 1
	}
	if opts.MaxCityLen <= 0 {
		opts.MaxCityLen = 100
	}
	var coalescer *summaryCoalescer
	if opts.CoalesceTimeout > 0 {
		coalescer = newSummaryCoalescer(opts.CoalesceTimeout)
	}
	return &HistoryService{
		client:    c,
		sessions:  sessions,
		cache:     summaries,
		coalescer: coalescer,
		opts:      opts,
	}
}

// CreateSession opens a new dashboard session with an empty history.
func (s *HistoryService) CreateSession(ctx context.Context) (*session.Session, error) {
	sess, err := s.sessions.Create()
	if err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx, nil).Info("session created", zap.String("session_id", sess.ID))
	return sess, nil
}

// EndSession discards the session and its history.
func (s *HistoryService) EndSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(sessionID); err != nil {
		return err
	}
	observability.LoggerFromContext(ctx, nil).Info("session ended", zap.String("session_id", sessionID))
	return nil
}

// Record fetches current weather for city and appends it to the session history.
// On any failure nothing is appended.
func (s *HistoryService) Record(ctx context.Context, sessionID, city string) (models.Observation, error) {
	logger := observability.LoggerFromContext(ctx, nil)
	query, err := validation.ValidateCity(city, s.opts.MinCityLen, s.opts.MaxCityLen)
	if err != nil {
		return models.Observation{}, err
	}
	if _, err := s.store(sessionID); err != nil {
		return models.Observation{}, err
	}

	start := time.Now()
	in, err := s.client.CurrentWeather(ctx, query)
	if err != nil {
		if client.CountsAsUpstreamFailure(err) {
			traffic.RecordError()
		} else {
			traffic.RecordSuccess()
		}
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()
		logger.Warn("weather fetch failed", zap.String("city", query), zap.Error(err))
		return models.Observation{}, fmt.Errorf("fetch weather for %s: %w", query, err)
	}

	obs, err := models.NewObservation(in)
	if err != nil {
		traffic.RecordError()
		field := "unknown"
		var fe *models.FieldError
		if errors.As(err, &fe) {
			field = fe.Field
		}
		observability.MalformedObservationsTotal.WithLabelValues(field).Inc()
		logger.Warn("upstream record rejected", zap.String("city", query), zap.String("field", field), zap.Error(err))
		return models.Observation{}, fmt.Errorf("record weather for %s: %w", query, err)
	}

	// The session may have ended or expired while the fetch was in flight.
	store, err := s.store(sessionID)
	if err != nil {
		return models.Observation{}, err
	}
	store.Append(obs)
	traffic.RecordSuccess()
	observability.RecordObservation(obs.City)
	logger.Debug("observation recorded",
		zap.String("session_id", sessionID),
		zap.String("city", obs.City),
		zap.Time("collected_at", obs.CollectedAt),
		zap.Duration("duration", time.Since(start)),
	)
	return obs, nil
}

// Snapshot returns the session history in insertion order.
func (s *HistoryService) Snapshot(ctx context.Context, sessionID string) ([]models.Observation, error) {
	store, err := s.store(sessionID)
	if err != nil {
		return nil, err
	}
	return store.All(), nil
}

// Table returns the history newest first. A non-empty city restricts it to that group.
func (s *HistoryService) Table(ctx context.Context, sessionID, city string) ([]models.Observation, error) {
	snapshot, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if city != "" {
		if snapshot, _, err = cityGroup(snapshot, city); err != nil {
			return nil, err
		}
	}
	return aggregate.SortedDescending(snapshot), nil
}

// Clear empties the session history. Cached summaries die with the old version.
func (s *HistoryService) Clear(ctx context.Context, sessionID string) error {
	store, err := s.store(sessionID)
	if err != nil {
		return err
	}
	n := store.Len()
	store.Clear()
	observability.HistoryClearsTotal.Inc()
	observability.LoggerFromContext(ctx, nil).Info("history cleared", zap.String("session_id", sessionID), zap.Int("removed", n))
	return nil
}

// Groups partitions the session history by city.
func (s *HistoryService) Groups(ctx context.Context, sessionID string) (*aggregate.Groups, error) {
	snapshot, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return aggregate.GroupByCity(snapshot), nil
}

// Describe computes the statistics panel for fields (defaults when empty).
// Results are memoized per store version, so repeated reads between appends are cache hits.
func (s *HistoryService) Describe(ctx context.Context, sessionID string, fields []aggregate.Field) (Stats, error) {
	store, err := s.store(sessionID)
	if err != nil {
		return Stats{}, err
	}
	if len(fields) == 0 {
		fields = aggregate.DefaultFields
	}
	snapshot, version := store.SnapshotAt()
	groups := aggregate.GroupByCity(snapshot)

	stats := Stats{
		Overall: s.summarize(ctx, summaryKey(sessionID, version, "all", fields), snapshot, fields),
		Cities:  make([]CityStats, 0, groups.Len()),
	}
	for i, g := range groups.List() {
		label := "g" + strconv.Itoa(i)
		stats.Cities = append(stats.Cities, CityStats{
			City:      g.City,
			Summaries: s.summarize(ctx, summaryKey(sessionID, version, label, fields), g.Observations, fields),
		})
	}
	return stats, nil
}

// Series returns chart data for one field, per city.
func (s *HistoryService) Series(ctx context.Context, sessionID string, field aggregate.Field) ([]aggregate.CitySeries, error) {
	snapshot, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return aggregate.Series(snapshot, field), nil
}

// Export renders the history (or one city's group) as CSV in insertion order.
func (s *HistoryService) Export(ctx context.Context, sessionID, city string) (Export, error) {
	snapshot, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return Export{}, err
	}
	if city != "" {
		if snapshot, city, err = cityGroup(snapshot, city); err != nil {
			return Export{}, err
		}
	}
	data := aggregate.ToCSV(snapshot)
	observability.CSVExportBytes.Observe(float64(len(data)))
	return Export{
		Filename: exportFilename(city),
		Data:     data,
		Rows:     len(snapshot),
	}, nil
}

// cityGroup returns the group whose stored name matches city case-insensitively,
// along with that stored name.
func cityGroup(snapshot []models.Observation, city string) ([]models.Observation, string, error) {
	city = strings.TrimSpace(city)
	groups := aggregate.GroupByCity(snapshot)
	for _, name := range groups.Cities() {
		if strings.EqualFold(name, city) {
			return groups.Get(name), name, nil
		}
	}
	return nil, "", fmt.Errorf("no observations for %q: %w", city, client.ErrLocationNotFound)
}

func (s *HistoryService) store(sessionID string) (*history.Store, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Store, nil
}

// summarize serves Describe from the cache, falling back to computation.
// Cache errors are counted and otherwise ignored.
func (s *HistoryService) summarize(ctx context.Context, key string, observations []models.Observation, fields []aggregate.Field) []aggregate.FieldSummary {
	logger := observability.LoggerFromContext(ctx, nil)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		logger.Warn("summary cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(s.opts.CacheType).Inc()
		return cached
	}
	observability.CacheMissesTotal.WithLabelValues(s.opts.CacheType).Inc()

	compute := func() ([]aggregate.FieldSummary, error) {
		return aggregate.Describe(observations, fields...), nil
	}
	if s.coalescer != nil {
		summaries, shared, err := s.coalescer.Do(ctx, key, compute)
		if err == nil {
			if shared {
				observability.SummaryCoalescedTotal.Inc()
				return summaries
			}
			s.cacheSummaries(ctx, key, summaries)
			return summaries
		}
		logger.Debug("coalesced describe abandoned", zap.String("key", key), zap.Error(err))
	}
	summaries, _ := compute()
	s.cacheSummaries(ctx, key, summaries)
	return summaries
}

func (s *HistoryService) cacheSummaries(ctx context.Context, key string, summaries []aggregate.FieldSummary) {
	if err := s.cache.Set(ctx, key, summaries, s.opts.SummaryTTL); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.LoggerFromContext(ctx, nil).Warn("summary cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// summaryKey identifies one Describe result. Group labels are positional so keys stay ASCII.
func summaryKey(sessionID string, version uint64, group string, fields []aggregate.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return sessionID + ":v" + strconv.FormatUint(version, 10) + ":" + group + ":" + strings.Join(names, ",")
}

// exportFilename follows the dashboard's download name, <city>_weather_history.csv.
func exportFilename(city string) string {
	city = strings.TrimSpace(city)
	if city == "" {
		return "weather_history.csv"
	}
	city = strings.Map(func(r rune) rune {
		switch r {
		case ' ', ',', '/', '\\', '"':
			return '_'
		}
		return r
	}, city)
	return city + "_weather_history.csv"
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
