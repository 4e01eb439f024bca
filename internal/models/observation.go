package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrMalformedObservation is returned when an ObservationInput is missing a required
// field or carries an out-of-range value. The store is never touched in that case.
var ErrMalformedObservation = errors.New("malformed observation")

// FieldError names the offending field of a rejected ObservationInput.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformedObservation.Error(), e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedObservation.
func (e *FieldError) Unwrap() error {
	return ErrMalformedObservation
}

// Observation is one weather sample. Values are immutable once appended to a store.
type Observation struct {
	City        string    `json:"city"`
	Temperature float64   `json:"temperature"`
	FeelsLike   *float64  `json:"feelsLike,omitempty"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Description string    `json:"description"`
	CollectedAt time.Time `json:"collectedAt"`
}

// ObservationInput is the loosely-typed record handed over by a weather source.
// A nil pointer means the field was absent from the upstream payload.
type ObservationInput struct {
	City        *string
	Temperature *float64
	FeelsLike   *float64
	Humidity    *int
	WindSpeed   *float64
	Description *string
	CollectedAt *time.Time
}

// NewObservation validates in and returns a fixed-shape Observation.
// Errors are *FieldError values wrapping ErrMalformedObservation.
func NewObservation(in ObservationInput) (Observation, error) {
	if in.City == nil || strings.TrimSpace(*in.City) == "" {
		return Observation{}, &FieldError{Field: "city", Reason: "required"}
	}
	if in.Temperature == nil {
		return Observation{}, &FieldError{Field: "temperature", Reason: "required"}
	}
	if !isFinite(*in.Temperature) {
		return Observation{}, &FieldError{Field: "temperature", Reason: "must be finite"}
	}
	if in.FeelsLike != nil && !isFinite(*in.FeelsLike) {
		return Observation{}, &FieldError{Field: "feels_like", Reason: "must be finite"}
	}
	if in.Humidity == nil {
		return Observation{}, &FieldError{Field: "humidity", Reason: "required"}
	}
	if *in.Humidity < 0 || *in.Humidity > 100 {
		return Observation{}, &FieldError{Field: "humidity", Reason: fmt.Sprintf("%d out of range 0-100", *in.Humidity)}
	}
	if in.WindSpeed == nil {
		return Observation{}, &FieldError{Field: "wind_speed", Reason: "required"}
	}
	if !isFinite(*in.WindSpeed) || *in.WindSpeed < 0 {
		return Observation{}, &FieldError{Field: "wind_speed", Reason: "must be a non-negative number"}
	}
	if in.Description == nil {
		return Observation{}, &FieldError{Field: "description", Reason: "required"}
	}
	if in.CollectedAt == nil || in.CollectedAt.IsZero() {
		return Observation{}, &FieldError{Field: "collected_at", Reason: "required"}
	}

	obs := Observation{
		City:        strings.TrimSpace(*in.City),
		Temperature: *in.Temperature,
		Humidity:    *in.Humidity,
		WindSpeed:   *in.WindSpeed,
		Description: *in.Description,
		CollectedAt: *in.CollectedAt,
	}
	if in.FeelsLike != nil {
		v := *in.FeelsLike
		obs.FeelsLike = &v
	}
	return obs, nil
}

// Clone returns a copy that shares no memory with o.
func (o Observation) Clone() Observation {
	if o.FeelsLike != nil {
		v := *o.FeelsLike
		o.FeelsLike = &v
	}
	return o
}

// HasFeelsLike reports whether the source provided an apparent temperature.
func (o Observation) HasFeelsLike() bool {
	return o.FeelsLike != nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
