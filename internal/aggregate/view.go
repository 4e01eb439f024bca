package aggregate

import (
	"sort"

	"github.com/kjstillabower/weather-history-service/internal/models"
)

// SortedDescending returns a copy of snapshot ordered newest first by CollectedAt.
// Observations sharing a timestamp keep their append order.
func SortedDescending(snapshot []models.Observation) []models.Observation {
	out := make([]models.Observation, len(snapshot))
	copy(out, snapshot)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CollectedAt.After(out[j].CollectedAt)
	})
	return out
}

// Groups maps city name to that city's observations. Cities iterate in order of
// first appearance in the snapshot.
type Groups struct {
	order  []string
	byCity map[string][]models.Observation
}

// GroupByCity partitions snapshot by City, preserving relative order within each group.
func GroupByCity(snapshot []models.Observation) *Groups {
	g := &Groups{byCity: make(map[string][]models.Observation)}
	for _, obs := range snapshot {
		if _, ok := g.byCity[obs.City]; !ok {
			g.order = append(g.order, obs.City)
		}
		g.byCity[obs.City] = append(g.byCity[obs.City], obs)
	}
	return g
}

// Cities returns the distinct city names in first-appearance order.
func (g *Groups) Cities() []string {
	return append([]string(nil), g.order...)
}

// Get returns the observations for city, or nil when the city is absent.
func (g *Groups) Get(city string) []models.Observation {
	return g.byCity[city]
}

// Len returns the number of distinct cities.
func (g *Groups) Len() int {
	return len(g.order)
}

// CityGroup is one entry of Groups in iteration order.
type CityGroup struct {
	City         string               `json:"city"`
	Observations []models.Observation `json:"observations"`
}

// List returns the groups as an ordered slice.
func (g *Groups) List() []CityGroup {
	out := make([]CityGroup, 0, len(g.order))
	for _, city := range g.order {
		out = append(out, CityGroup{City: city, Observations: g.byCity[city]})
	}
	return out
}
