// Package generator produces synthetic logger export files for
// manual testing of the import pipeline.
package generator

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/xuri/excelize/v2"
)

// csvHeader mirrors the delimited exports the pipeline consumes.
var csvHeader = []string{"Sensor_ID", "Temperatura", "Umidade", "Data_Hora"}

// Series models one logger's signal: a baseline with a daily cycle
// and noise, the same shape real temperature/humidity loggers show.
type Series struct {
	serial           string
	baselineTemp     float64
	baselineHumidity float64
	noise            float64
}

// NewSeries creates a signal generator for a serial number. An empty
// serial gets a fake one.
func NewSeries(serial string) *Series {
	if serial == "" {
		serial = strings.ToUpper(gofakeit.LetterN(2)) + gofakeit.DigitN(10)
	}
	return &Series{
		serial:           serial,
		baselineTemp:     18.0 + rand.Float64()*8,  // 18-26°C
		baselineHumidity: 45.0 + rand.Float64()*25, // 45-70%
		noise:            rand.Float64() * 1.5,
	}
}

// Serial returns the series' serial number.
func (s *Series) Serial() string {
	return s.serial
}

// Temperature returns the reading at t, following a daily cycle that
// peaks mid-afternoon.
func (s *Series) Temperature(t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := 3 * math.Sin((hour-6)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * s.noise
	return s.baselineTemp + dailyCycle + noise
}

// Humidity returns the reading at t, inversely correlated with the
// temperature cycle.
func (s *Series) Humidity(t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := -4 * math.Sin((hour-6)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * s.noise * 2
	h := s.baselineHumidity + dailyCycle + noise
	return math.Max(0, math.Min(100, h))
}

// WriteCSV writes rows readings at a fixed interval ending now, as a
// comma-separated export with the conventional header.
func WriteCSV(path string, series *Series, rows int, interval time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	start := time.Now().Add(-time.Duration(rows) * interval)
	for i := 0; i < rows; i++ {
		ts := start.Add(time.Duration(i) * interval)
		record := []string{
			series.Serial(),
			strconv.FormatFloat(series.Temperature(ts), 'f', 2, 64),
			strconv.FormatFloat(series.Humidity(ts), 'f', 1, 64),
			ts.Format("02/01/2006 15:04:05"),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// WriteWorkbook writes rows readings as an Excel workbook following
// the two-sheet logger convention: a "Resumo" sheet carrying the
// model and serial in fixed cells, and a "Lista" data sheet.
func WriteWorkbook(path string, series *Series, rows int, interval time.Duration) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet("Resumo"); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if _, err := f.NewSheet("Lista"); err != nil {
		return fmt.Errorf("failed to create data sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")

	summary := map[string]any{
		"A1": "Relatório do Logger",
		"A3": "Modelo",
		"B3": "TH-" + gofakeit.DigitN(3),
		"A4": "Número de Série",
		"B4": series.Serial(),
	}
	for cell, value := range summary {
		if err := f.SetCellValue("Resumo", cell, value); err != nil {
			return fmt.Errorf("failed to set summary cell %s: %w", cell, err)
		}
	}

	header := []string{"Data_Hora", "Temperatura", "Umidade"}
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue("Lista", cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
	}

	start := time.Now().Add(-time.Duration(rows) * interval)
	for i := 0; i < rows; i++ {
		ts := start.Add(time.Duration(i) * interval)
		row := i + 2
		values := []any{
			ts.Format("2006-01-02 15:04:05"),
			series.Temperature(ts),
			series.Humidity(ts),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue("Lista", cell, v); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
