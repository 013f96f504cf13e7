package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Field names the logical columns the pipeline consumes.
type Field string

const (
	FieldTimestamp   Field = "timestamp"
	FieldTemperature Field = "temperature"
	FieldHumidity    Field = "humidity"
	FieldSensorID    Field = "sensor_id"
)

// fieldSynonyms is the ordered synonym table used for heuristic
// header matching. Matching is a case-insensitive substring test; the
// first header (left to right) containing any synonym wins, and
// synonyms earlier in a list only matter for documentation order.
var fieldSynonyms = map[Field][]string{
	FieldTimestamp:   {"data_hora", "data/hora", "datahora", "timestamp", "datetime", "date/time", "data", "date", "hora", "time"},
	FieldTemperature: {"temperatura", "temperature", "temp", "°c", "celsius"},
	FieldHumidity:    {"umidade", "humidade", "humidity", "umid", "%rh", "rh%", "rh"},
	FieldSensorID:    {"sensor_id", "sensor", "serial", "numero_serie", "nº de série", "n/s", "device"},
}

// DataConfig is the stored per-SensorType column configuration. All
// fields are optional; column references accept either a letter ("B")
// or a header name. DateFormat is a Go reference layout tried before
// the built-in timestamp forms.
type DataConfig struct {
	TimestampColumn   string `json:"timestampColumn,omitempty"`
	TemperatureColumn string `json:"temperatureColumn,omitempty"`
	HumidityColumn    string `json:"humidityColumn,omitempty"`
	StartRow          int    `json:"startRow,omitempty"`
	DateFormat        string `json:"dateFormat,omitempty"`
	HasHeader         *bool  `json:"hasHeader,omitempty"`
	Separator         string `json:"separator,omitempty"`
	Encoding          string `json:"encoding,omitempty"`
}

// ColumnMap is the resolved logical-field to column-index mapping.
// Indexes are 0-based; -1 marks an optional field with no column.
type ColumnMap struct {
	Timestamp   int
	Temperature int
	Humidity    int
	SensorID    int
}

// MapColumns resolves which raw column supplies each logical field.
// Explicit configuration wins over the synonym heuristics; timestamp
// and temperature are mandatory, humidity and sensor id optional.
func MapColumns(headers []string, cfg *DataConfig) (ColumnMap, error) {
	m := ColumnMap{Timestamp: -1, Temperature: -1, Humidity: -1, SensorID: -1}

	if cfg != nil {
		m.Timestamp = resolveConfigured(cfg.TimestampColumn, headers)
		m.Temperature = resolveConfigured(cfg.TemperatureColumn, headers)
		m.Humidity = resolveConfigured(cfg.HumidityColumn, headers)
	}

	if m.Timestamp < 0 {
		m.Timestamp = matchHeader(headers, fieldSynonyms[FieldTimestamp])
	}
	if m.Temperature < 0 {
		m.Temperature = matchHeader(headers, fieldSynonyms[FieldTemperature])
	}
	if m.Humidity < 0 {
		m.Humidity = matchHeader(headers, fieldSynonyms[FieldHumidity])
	}
	m.SensorID = matchHeader(headers, fieldSynonyms[FieldSensorID])

	var missing []string
	if m.Timestamp < 0 {
		missing = append(missing, string(FieldTimestamp))
	}
	if m.Temperature < 0 {
		missing = append(missing, string(FieldTemperature))
	}
	if len(missing) > 0 {
		return ColumnMap{}, fmt.Errorf("unresolvable columns: %s", strings.Join(missing, ", "))
	}

	return m, nil
}

// resolveConfigured turns an explicit column reference into a 0-based
// index: a column letter ("A".."XFD"), a 1-based number, or an exact
// header name. Invalid references resolve to -1 so the heuristics get
// a chance.
func resolveConfigured(ref string, headers []string) int {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1
	}

	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 {
			return n - 1
		}
		return -1
	}

	if isColumnLetter(ref) {
		if n, err := excelize.ColumnNameToNumber(strings.ToUpper(ref)); err == nil {
			return n - 1
		}
		return -1
	}

	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), ref) {
			return i
		}
	}
	return -1
}

func isColumnLetter(ref string) bool {
	if len(ref) == 0 || len(ref) > 3 {
		return false
	}
	for _, r := range ref {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// matchHeader returns the index of the first header containing any of
// the synonyms, case-insensitively, or -1.
func matchHeader(headers []string, synonyms []string) int {
	for i, h := range headers {
		header := strings.ToLower(strings.TrimSpace(h))
		if header == "" {
			continue
		}
		for _, syn := range synonyms {
			if strings.Contains(header, syn) {
				return i
			}
		}
	}
	return -1
}
