package client

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/weather-history-service/internal/models"
)

// SampleDescriptions are the conditions SampleClient picks from.
var SampleDescriptions = []string{"맑음", "흐림", "비"}

// SampleClient generates synthetic observations for local runs without an API key.
// The city is echoed back as given and CollectedAt is the clock's current time.
type SampleClient struct {
	mu    sync.Mutex
	rng   *rand.Rand
	clock clockwork.Clock
}

// NewSampleClient creates a SampleClient. A fixed seed makes the sequence reproducible.
func NewSampleClient(seed int64, clock clockwork.Clock) *SampleClient {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SampleClient{
		rng:   rand.New(rand.NewSource(seed)),
		clock: clock,
	}
}

// CurrentWeather returns temperature in [15,30] and wind in [1,10] rounded to 0.1,
// humidity in [40,80], and a random description. No apparent temperature is produced.
func (c *SampleClient) CurrentWeather(ctx context.Context, city string) (models.ObservationInput, error) {
	if err := ctx.Err(); err != nil {
		return models.ObservationInput{}, err
	}

	c.mu.Lock()
	temp := roundTenth(15 + c.rng.Float64()*15)
	humidity := 40 + c.rng.Intn(41)
	wind := roundTenth(1 + c.rng.Float64()*9)
	desc := SampleDescriptions[c.rng.Intn(len(SampleDescriptions))]
	c.mu.Unlock()

	name := strings.TrimSpace(city)
	at := c.clock.Now()
	return models.ObservationInput{
		City:        &name,
		Temperature: &temp,
		Humidity:    &humidity,
		WindSpeed:   &wind,
		Description: &desc,
		CollectedAt: &at,
	}, nil
}

// ValidateAPIKey always succeeds; there is no upstream.
func (c *SampleClient) ValidateAPIKey(ctx context.Context) error {
	return nil
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
