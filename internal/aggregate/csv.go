package aggregate

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-history-service/internal/models"
)

// utf8BOM makes spreadsheet tools detect UTF-8 so non-ASCII city names and
// descriptions survive opening the export.
const utf8BOM = "\ufeff"

// CSVTimeFormat is the collected_at column format.
const CSVTimeFormat = time.RFC3339Nano

// CSVHeader is the first row of every export. feels_like is not exported; it is
// optional upstream and the download keeps the dashboard's column set.
var CSVHeader = []string{"city", "temperature", "humidity", "wind_speed", "description", "collected_at"}

// WriteCSV writes a BOM-prefixed UTF-8 CSV with one row per observation, in the order given.
func WriteCSV(w io.Writer, observations []models.Observation) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, obs := range observations {
		if err := cw.Write(csvRecord(obs)); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ToCSV returns the WriteCSV encoding of observations.
func ToCSV(observations []models.Observation) []byte {
	var buf bytes.Buffer
	// bytes.Buffer writes do not fail.
	_ = WriteCSV(&buf, observations)
	return buf.Bytes()
}

func csvRecord(obs models.Observation) []string {
	return []string{
		obs.City,
		formatFloat(obs.Temperature),
		strconv.Itoa(obs.Humidity),
		formatFloat(obs.WindSpeed),
		obs.Description,
		obs.CollectedAt.Format(CSVTimeFormat),
	}
}

// formatFloat keeps the shortest representation that round-trips.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
