package ingest

import (
	"errors"
	"fmt"
)

// FatalKind classifies errors that abort an import job.
type FatalKind string

const (
	KindFileNotFound       FatalKind = "file_not_found"
	KindUnsupportedFormat  FatalKind = "unsupported_format"
	KindUnreadableWorkbook FatalKind = "unreadable_workbook"
	KindUnreadableText     FatalKind = "unreadable_text"
	KindEmptySheet         FatalKind = "empty_sheet"
	KindUnresolvableCols   FatalKind = "unresolvable_columns"
	KindNoSensorResolvable FatalKind = "no_sensor_resolvable"
	KindParserTimeout      FatalKind = "parser_timeout"
)

// FatalError aborts the whole import job. Row-level problems are
// RowError values collected in the result, never FatalErrors.
type FatalError struct {
	Err   error
	Kind  FatalKind
	File  string
	Stage Stage
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (file=%q, stage=%s): %v", e.Kind, e.File, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s (file=%q, stage=%s)", e.Kind, e.File, e.Stage)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// fatal wraps err as a FatalError of the given kind.
func fatal(kind FatalKind, file string, stage Stage, err error) *FatalError {
	return &FatalError{Kind: kind, File: file, Stage: stage, Err: err}
}

// FatalKindOf returns the kind of err when it is (or wraps) a
// FatalError, and ok=false otherwise.
func FatalKindOf(err error) (FatalKind, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// RowError records a recoverable, row-scoped validation failure. The
// offending row is skipped; subsequent rows keep flowing.
type RowError struct {
	Row      int    `json:"row"`
	Field    string `json:"field"`
	Message  string `json:"message"`
	RawValue string `json:"rawValue"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s: %s (raw=%q)", e.Row, e.Field, e.Message, e.RawValue)
}

// Warning is a non-fatal quality note attached to the import result,
// e.g. an unusually large gap between consecutive timestamps.
type Warning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}
