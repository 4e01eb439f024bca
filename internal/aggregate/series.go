package aggregate

import (
	"sort"
	"time"

	"github.com/kjstillabower/weather-history-service/internal/models"
)

// Point is one sample of a chart line.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// CitySeries is the time series of one field for one city, oldest first.
type CitySeries struct {
	City   string  `json:"city"`
	Field  Field   `json:"field"`
	Points []Point `json:"points"`
}

// Series builds one line per city (first-appearance order) for field.
// Observations lacking the field are skipped; cities left without points are omitted.
func Series(snapshot []models.Observation, field Field) []CitySeries {
	groups := GroupByCity(snapshot)
	out := make([]CitySeries, 0, groups.Len())
	for _, city := range groups.Cities() {
		var points []Point
		for _, obs := range groups.Get(city) {
			if v, ok := field.value(obs); ok {
				points = append(points, Point{At: obs.CollectedAt, Value: v})
			}
		}
		if len(points) == 0 {
			continue
		}
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].At.Before(points[j].At)
		})
		out = append(out, CitySeries{City: city, Field: field, Points: points})
	}
	return out
}
