package aggregate

import (
	"encoding/json"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kjstillabower/weather-history-service/internal/models"
)

// FieldSummary holds descriptive statistics for one field over a group.
// Statistics that are undefined for the group size are NaN.
type FieldSummary struct {
	Field Field
	Count int
	Mean  float64
	Std   float64
	Min   float64
	P25   float64
	P50   float64
	P75   float64
	Max   float64
}

// Describe computes FieldSummary for each field over observations.
// Std is the sample standard deviation (n-1) and is NaN for fewer than two values.
// Quartiles use linear interpolation between closest ranks. An empty group yields
// Count 0 with every statistic NaN.
func Describe(observations []models.Observation, fields ...Field) []FieldSummary {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	out := make([]FieldSummary, 0, len(fields))
	for _, f := range fields {
		out = append(out, summarize(f, f.values(observations)))
	}
	return out
}

func summarize(f Field, values []float64) FieldSummary {
	nan := math.NaN()
	s := FieldSummary{
		Field: f,
		Count: len(values),
		Mean:  nan,
		Std:   nan,
		Min:   nan,
		P25:   nan,
		P50:   nan,
		P75:   nan,
		Max:   nan,
	}
	if len(values) == 0 {
		return s
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		s.Std = stat.StdDev(sorted, nil)
	}
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P25 = quantile(sorted, 0.25)
	s.P50 = quantile(sorted, 0.50)
	s.P75 = quantile(sorted, 0.75)
	return s
}

// quantile interpolates linearly at rank (n-1)*p over ascending-sorted values.
// gonum's stat.Quantile estimators interpolate the empirical CDF differently, so
// they would not agree with spreadsheet and dataframe quartiles.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// summaryJSON mirrors FieldSummary with nullable statistics; JSON has no NaN.
type summaryJSON struct {
	Field Field    `json:"field"`
	Count int      `json:"count"`
	Mean  *float64 `json:"mean"`
	Std   *float64 `json:"std"`
	Min   *float64 `json:"min"`
	P25   *float64 `json:"p25"`
	P50   *float64 `json:"p50"`
	P75   *float64 `json:"p75"`
	Max   *float64 `json:"max"`
}

// MarshalJSON encodes NaN statistics as null.
func (s FieldSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryJSON{
		Field: s.Field,
		Count: s.Count,
		Mean:  nullable(s.Mean),
		Std:   nullable(s.Std),
		Min:   nullable(s.Min),
		P25:   nullable(s.P25),
		P50:   nullable(s.P50),
		P75:   nullable(s.P75),
		Max:   nullable(s.Max),
	})
}

// UnmarshalJSON decodes null statistics back to NaN.
func (s *FieldSummary) UnmarshalJSON(data []byte) error {
	var raw summaryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = FieldSummary{
		Field: raw.Field,
		Count: raw.Count,
		Mean:  orNaN(raw.Mean),
		Std:   orNaN(raw.Std),
		Min:   orNaN(raw.Min),
		P25:   orNaN(raw.P25),
		P50:   orNaN(raw.P50),
		P75:   orNaN(raw.P75),
		Max:   orNaN(raw.Max),
	}
	return nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
