package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidCity is the common cause of every city validation failure.
var ErrInvalidCity = errors.New("invalid city")

// ErrCityEmpty is returned when city is empty or whitespace-only after trim.
var ErrCityEmpty = fmt.Errorf("%w: city is required", ErrInvalidCity)

// ErrCityTooShort is returned when city length is below the minimum.
var ErrCityTooShort = fmt.Errorf("%w: city too short", ErrInvalidCity)

// ErrCityTooLong is returned when city length exceeds the maximum.
var ErrCityTooLong = fmt.Errorf("%w: city too long", ErrInvalidCity)

// ErrCityInvalidChars is returned when city contains disallowed characters.
var ErrCityInvalidChars = fmt.Errorf("%w: city contains invalid characters", ErrInvalidCity)

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (any script), digits, space, comma,
// hyphen, period and apostrophe. Returns the trimmed string or an error suitable
// for 400 INVALID_LOCATION responses.
// The trimmed value is what gets sent upstream; the stored city name comes from the API.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
