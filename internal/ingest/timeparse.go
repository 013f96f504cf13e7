package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NormalizeTimestamp normalizes a raw cell value into a calendar-naive
// timestamp. Naive means no timezone is applied or implied: the
// returned time.Time carries UTC as a placeholder location but its
// fields are the literal wall-clock digits of the input.
//
// Recognized forms, in precedence order:
//  1. YYYY-MM-DD HH:MM:SS (space or T separator), taken verbatim.
//  2. Any date string carrying an explicit Z/±HH:MM suffix: the
//     suffix is stripped before parsing, so no offset conversion
//     happens and the wall-clock digits survive.
//  3. DD/MM/YYYY or DD/MM/YY with optional HH:MM[:SS]. Two-digit
//     years get +2000 added, flat, so 95 means 2095. Single-digit
//     day and month are accepted.
//  4. Numeric epoch seconds (rendered as UTC wall clock, kept naive).
func NormalizeTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return naive(v), nil
	case string:
		return parseTimestampString(v)
	case float64:
		return fromEpoch(int64(v))
	case int64:
		return fromEpoch(v)
	case int:
		return fromEpoch(int64(v))
	case nil:
		return time.Time{}, fmt.Errorf("empty timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

// NormalizeTimestampLayout behaves like NormalizeTimestamp but tries
// the given Go reference layout first, so a sensor type's stored date
// format can disambiguate inputs the built-in forms would misread.
// An empty layout means no preference. The parsed value stays naive.
func NormalizeTimestampLayout(raw any, layout string) (time.Time, error) {
	if layout != "" {
		if s, ok := raw.(string); ok {
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC); err == nil {
				return t, nil
			}
		}
	}
	return NormalizeTimestamp(raw)
}

var (
	isoPattern    = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[ T](\d{2}):(\d{2}):(\d{2})`)
	offsetPattern = regexp.MustCompile(`(Z|[+-]\d{2}:?\d{2})$`)
	slashPattern  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})(?:[ T](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	numericValue  = regexp.MustCompile(`^\d{9,11}$`)
)

// fallbackLayouts covers date strings outside the primary forms that
// generic parsing should still accept, e.g. a date with no time part.
var fallbackLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
}

func parseTimestampString(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	// ISO date-times win outright; a trailing Z or ±HH:MM offset is
	// stripped, never interpreted. The value is already local time.
	if isoPattern.MatchString(s) {
		m := isoPattern.FindStringSubmatch(s)
		return buildNaive(m[1], m[2], m[3], m[4], m[5], m[6])
	}

	// Non-ISO string with an explicit offset suffix: strip and retry.
	if offsetPattern.MatchString(s) {
		stripped := strings.TrimSpace(offsetPattern.ReplaceAllString(s, ""))
		if t, err := parseTimestampString(stripped); err == nil {
			return t, nil
		}
	}

	if m := slashPattern.FindStringSubmatch(s); m != nil {
		return buildSlashDate(m)
	}

	if numericValue.MatchString(s) {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return fromEpoch(secs)
		}
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func buildSlashDate(m []string) (time.Time, error) {
	day := atoi(m[1])
	month := atoi(m[2])
	year := atoi(m[3])
	if len(m[3]) == 2 {
		// Flat +2000 rule: 95 is 2095, not 1995.
		year += 2000
	}
	hour, minute, sec := 0, 0, 0
	if m[4] != "" {
		hour = atoi(m[4])
		minute = atoi(m[5])
		if m[6] != "" {
			sec = atoi(m[6])
		}
	}
	return calendarDate(year, month, day, hour, minute, sec)
}

func buildNaive(year, month, day, hour, minute, sec string) (time.Time, error) {
	return calendarDate(atoi(year), atoi(month), atoi(day), atoi(hour), atoi(minute), atoi(sec))
}

// calendarDate builds the timestamp and rejects field values that
// time.Date would silently normalize (e.g. 32/01 rolling into
// February).
func calendarDate(year, month, day, hour, minute, sec int) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, fmt.Errorf("date fields out of range: %04d-%02d-%02d %02d:%02d:%02d",
			year, month, day, hour, minute, sec)
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC)
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("invalid calendar date %02d/%02d/%04d", day, month, year)
	}
	return t, nil
}

func fromEpoch(secs int64) (time.Time, error) {
	if secs <= 0 {
		return time.Time{}, fmt.Errorf("epoch seconds out of range: %d", secs)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// naive rebuilds t from its own wall-clock fields with the location
// dropped. No conversion happens.
func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
