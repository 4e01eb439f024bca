package aggregate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kjstillabower/weather-history-service/internal/models"
)

// ErrUnknownField is returned by ParseField for names that are not numeric observation fields.
var ErrUnknownField = errors.New("unknown field")

// Field names a numeric observation field that can be summarized or charted.
type Field string

const (
	FieldTemperature Field = "temperature"
	FieldFeelsLike   Field = "feels_like"
	FieldHumidity    Field = "humidity"
	FieldWindSpeed   Field = "wind_speed"
)

// DefaultFields are summarized when the caller does not ask for specific ones.
var DefaultFields = []Field{FieldTemperature, FieldHumidity, FieldWindSpeed}

// Dashboard column labels are accepted as aliases.
var fieldAliases = map[string]Field{
	"temperature": FieldTemperature,
	"temp":        FieldTemperature,
	"기온":          FieldTemperature,
	"feels_like":  FieldFeelsLike,
	"feelslike":   FieldFeelsLike,
	"체감":          FieldFeelsLike,
	"humidity":    FieldHumidity,
	"습도":          FieldHumidity,
	"wind_speed":  FieldWindSpeed,
	"windspeed":   FieldWindSpeed,
	"wind":        FieldWindSpeed,
	"풍속":          FieldWindSpeed,
}

// ParseField resolves a field name or alias, case-insensitively.
func ParseField(name string) (Field, error) {
	f, ok := fieldAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// ParseFields resolves a comma-separated list. An empty list yields DefaultFields.
// Duplicates are dropped, keeping the first occurrence.
func ParseFields(list string) ([]Field, error) {
	if strings.TrimSpace(list) == "" {
		return append([]Field(nil), DefaultFields...), nil
	}
	seen := make(map[Field]struct{})
	var out []Field
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		f, err := ParseField(part)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return append([]Field(nil), DefaultFields...), nil
	}
	return out, nil
}

// value extracts f from obs. ok is false when the observation does not carry the field.
func (f Field) value(obs models.Observation) (v float64, ok bool) {
	switch f {
	case FieldTemperature:
		return obs.Temperature, true
	case FieldFeelsLike:
		if obs.FeelsLike == nil {
			return 0, false
		}
		return *obs.FeelsLike, true
	case FieldHumidity:
		return float64(obs.Humidity), true
	case FieldWindSpeed:
		return obs.WindSpeed, true
	}
	return 0, false
}

// values collects f across observations, skipping ones that lack it.
func (f Field) values(observations []models.Observation) []float64 {
	out := make([]float64, 0, len(observations))
	for _, obs := range observations {
		if v, ok := f.value(obs); ok {
			out = append(out, v)
		}
	}
	return out
}
