package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Physical plausibility bounds for a temperature/humidity logger.
// The lower temperature bound is absolute zero in Celsius; the upper
// is generously above any process the loggers see.
const (
	minTemperature = -273.15
	maxTemperature = 200.0
	minHumidity    = 0.0
	maxHumidity    = 100.0
)

// ValidatorConfig tunes the per-row domain checks.
type ValidatorConfig struct {
	// MinYear rejects timestamps before January 1st of this year.
	// Zero means 2000.
	MinYear int
	// FutureTolerance allows timestamps slightly past "now" before
	// they are rejected. Zero means 5 minutes.
	FutureTolerance time.Duration
	// GapWarning emits a warning when consecutive accepted timestamps
	// are further apart than this. Zero disables gap warnings.
	GapWarning time.Duration
	// TimestampLayout is a Go reference layout tried before the
	// built-in timestamp forms, coming from the sensor type's stored
	// date format. Empty means no preference.
	TimestampLayout string
	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// Reading is one accepted row, ready for persistence.
type Reading struct {
	Timestamp   time.Time
	Temperature float64
	Humidity    *float64
	SensorID    string
	RowNumber   int
}

// RowValidator applies the domain constraints row by row. It keeps
// the previously accepted timestamp so it can flag suspicious gaps;
// one validator instance serves exactly one job.
type RowValidator struct {
	cfg      ValidatorConfig
	minTime  time.Time
	lastSeen time.Time
}

// NewRowValidator builds a validator with the configured bounds.
func NewRowValidator(cfg ValidatorConfig) *RowValidator {
	if cfg.MinYear <= 0 {
		cfg.MinYear = 2000
	}
	if cfg.FutureTolerance <= 0 {
		cfg.FutureTolerance = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RowValidator{
		cfg:     cfg,
		minTime: time.Date(cfg.MinYear, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Validate checks one mapped row. On success it returns the accepted
// reading and possibly a gap warning; on failure it returns a
// RowError and the row is skipped. A bad row never stops the stream.
func (v *RowValidator) Validate(row Row, cols ColumnMap) (Reading, *Warning, *RowError) {
	rawTS := cellAt(row, cols.Timestamp)
	ts, err := NormalizeTimestampLayout(rawTS, v.cfg.TimestampLayout)
	if err != nil {
		return Reading{}, nil, &RowError{
			Row:      row.Number,
			Field:    string(FieldTimestamp),
			Message:  fmt.Sprintf("invalid timestamp: %v", err),
			RawValue: rawString(rawTS),
		}
	}

	now := v.cfg.Now()
	if ts.Before(v.minTime) {
		return Reading{}, nil, &RowError{
			Row:      row.Number,
			Field:    string(FieldTimestamp),
			Message:  fmt.Sprintf("timestamp before minimum year %d", v.cfg.MinYear),
			RawValue: rawString(rawTS),
		}
	}
	if ts.After(now.Add(v.cfg.FutureTolerance)) {
		return Reading{}, nil, &RowError{
			Row:      row.Number,
			Field:    string(FieldTimestamp),
			Message:  "timestamp is in the future",
			RawValue: rawString(rawTS),
		}
	}

	rawTemp := cellAt(row, cols.Temperature)
	temp, err := parseFloat(rawTemp)
	if err != nil {
		return Reading{}, nil, &RowError{
			Row:      row.Number,
			Field:    string(FieldTemperature),
			Message:  fmt.Sprintf("invalid temperature: %v", err),
			RawValue: rawString(rawTemp),
		}
	}
	if temp < minTemperature || temp > maxTemperature {
		return Reading{}, nil, &RowError{
			Row:      row.Number,
			Field:    string(FieldTemperature),
			Message:  fmt.Sprintf("temperature out of range [%.2f, %.2f]", minTemperature, maxTemperature),
			RawValue: rawString(rawTemp),
		}
	}

	reading := Reading{
		Timestamp:   ts,
		Temperature: temp,
		RowNumber:   row.Number,
	}

	if cols.Humidity >= 0 {
		rawHum := cellAt(row, cols.Humidity)
		if !isBlank(rawHum) {
			hum, err := parseFloat(rawHum)
			if err != nil {
				return Reading{}, nil, &RowError{
					Row:      row.Number,
					Field:    string(FieldHumidity),
					Message:  fmt.Sprintf("invalid humidity: %v", err),
					RawValue: rawString(rawHum),
				}
			}
			if hum < minHumidity || hum > maxHumidity {
				return Reading{}, nil, &RowError{
					Row:      row.Number,
					Field:    string(FieldHumidity),
					Message:  fmt.Sprintf("humidity out of range [%.0f, %.0f]", minHumidity, maxHumidity),
					RawValue: rawString(rawHum),
				}
			}
			reading.Humidity = &hum
		}
	}

	if cols.SensorID >= 0 {
		reading.SensorID = strings.TrimSpace(rawString(cellAt(row, cols.SensorID)))
	}

	var warning *Warning
	if v.cfg.GapWarning > 0 && !v.lastSeen.IsZero() {
		if gap := ts.Sub(v.lastSeen); gap > v.cfg.GapWarning {
			warning = &Warning{
				Row:     row.Number,
				Message: fmt.Sprintf("gap of %s since previous reading", gap),
			}
		}
	}
	v.lastSeen = ts

	return reading, warning, nil
}

// cellAt returns the cell for a mapped column, or nil when the row is
// too short.
func cellAt(row Row, idx int) any {
	if idx < 0 || idx >= len(row.Cells) {
		return nil
	}
	return row.Cells[idx]
}

// parseFloat coerces a raw cell into a finite float. Decimal commas
// are accepted; locale-formatted exports use them routinely.
func parseFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("not a finite number")
		}
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, fmt.Errorf("empty value")
		}
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("not a finite number")
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unsupported value type %T", raw)
	}
}

func isBlank(raw any) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func rawString(raw any) string {
	if raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", raw)
}
