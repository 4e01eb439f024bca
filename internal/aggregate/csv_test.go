package aggregate

import (
	"bytes"
	"encoding/csv"
	"math"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/kjstillabower/weather-history-service/internal/models"
)

func TestToCSV_HeaderOnlyForEmpty(t *testing.T) {
	out := ToCSV(nil)
	if !bytes.HasPrefix(out, []byte("\xEF\xBB\xBF")) {
		t.Fatalf("ToCSV() missing UTF-8 BOM: %q", out)
	}
	rows, err := csv.NewReader(bytes.NewReader(out[3:])).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 1 || !reflect.DeepEqual(rows[0], CSVHeader) {
		t.Errorf("rows = %v, want header only", rows)
	}
}

func TestToCSV_RoundTrip(t *testing.T) {
	feels := 16.25
	snap := []models.Observation{
		sample("Seoul", 18.5, 60, 3.2, "맑음", t0),
		sample("São Paulo", -0.1, 100, 0, "light rain, mist", t0.Add(90*time.Second+500*time.Millisecond)),
		sample("Busan", 22.123456789, 0, 12.75, `say "hi"`, t0.Add(time.Hour)),
	}
	snap[0].FeelsLike = &feels

	out := ToCSV(snap)
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(out, []byte("\xEF\xBB\xBF")))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != len(snap)+1 {
		t.Fatalf("rows = %d, want %d", len(rows), len(snap)+1)
	}

	for i, obs := range snap {
		row := rows[i+1]
		if len(row) != len(CSVHeader) {
			t.Fatalf("row %d has %d cells, want %d", i, len(row), len(CSVHeader))
		}
		if row[0] != obs.City || row[4] != obs.Description {
			t.Errorf("row %d text = %v, want %s / %s", i, row, obs.City, obs.Description)
		}
		temp, _ := strconv.ParseFloat(row[1], 64)
		hum, _ := strconv.Atoi(row[2])
		wind, _ := strconv.ParseFloat(row[3], 64)
		if math.Abs(temp-obs.Temperature) > 1e-12 || hum != obs.Humidity || math.Abs(wind-obs.WindSpeed) > 1e-12 {
			t.Errorf("row %d numbers = %v, want %+v", i, row, obs)
		}
		at, err := time.Parse(CSVTimeFormat, row[5])
		if err != nil || !at.Equal(obs.CollectedAt) {
			t.Errorf("row %d collected_at = %q (%v), want %v", i, row[5], err, obs.CollectedAt)
		}
	}
	if rows[3][1] != "22.123456789" {
		t.Errorf("temperature rendered as %q, want source precision", rows[3][1])
	}
}

func TestCSVHeader_Columns(t *testing.T) {
	want := []string{"city", "temperature", "humidity", "wind_speed", "description", "collected_at"}
	if !reflect.DeepEqual(CSVHeader, want) {
		t.Errorf("CSVHeader = %v, want %v", CSVHeader, want)
	}
}

func TestWriteCSV_PreservesGivenOrder(t *testing.T) {
	snap := SortedDescending(scenario())
	var buf bytes.Buffer
	if err := WriteCSV(&buf, snap); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	rows, _ := csv.NewReader(bytes.NewReader(buf.Bytes()[3:])).ReadAll()
	got := []string{rows[1][0], rows[2][0], rows[3][0]}
	if want := []string{"Busan", "Seoul", "Seoul"}; !reflect.DeepEqual(got, want) {
		t.Errorf("row cities = %v, want %v", got, want)
	}
}
