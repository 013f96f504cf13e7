package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"procodus.dev/telemetry-import/internal/store"
	"procodus.dev/telemetry-import/pkg/metrics"
)

// DefaultOpenTimeout bounds how long opening and parsing the file
// container may take before the job fails with a parser timeout.
const DefaultOpenTimeout = 30 * time.Second

// JobConfig holds the configuration for one import job.
type JobConfig struct {
	Logger *slog.Logger

	// Stores.
	Sensors  *store.SensorStore
	Readings *store.ReadingStore

	// FilePath is the resolved path of the input file.
	FilePath string

	// ExplicitSerial optionally names the sensor, overriding anything
	// extracted from the file.
	ExplicitSerial string
	// SuitcaseID is the target suitcase; zero means none.
	SuitcaseID uint
	// ValidationID optionally scopes the readings.
	ValidationID *uint

	// DataConfig is the known SensorType column configuration, when
	// the logger model has one stored.
	DataConfig *DataConfig

	// ChunkSize overrides the batch writer's default when positive.
	ChunkSize int
	// OpenTimeout overrides DefaultOpenTimeout when positive.
	OpenTimeout time.Duration

	// Validator tunes the row checks.
	Validator ValidatorConfig

	// Metrics is optional.
	Metrics *metrics.IngestMetrics
}

// Job runs one file through the whole pipeline: detect, read, map,
// resolve, validate, persist, summarize.
//
// Stages: pending, reading, mapping, validating (validation and
// persistence interleave over the row stream), then completed,
// cancelled or failed. Row-level errors never fail the job; only
// fatal errors do.
type Job struct {
	cfg    JobConfig
	stage  Stage
	result ImportResult
}

// NewJob creates a Job.
func NewJob(cfg JobConfig) (*Job, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Sensors == nil {
		return nil, errors.New("sensor store cannot be nil")
	}
	if cfg.Readings == nil {
		return nil, errors.New("reading store cannot be nil")
	}
	if cfg.FilePath == "" {
		return nil, errors.New("file path cannot be empty")
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	return &Job{cfg: cfg, stage: StagePending}, nil
}

// Stage returns the job's current stage.
func (j *Job) Stage() Stage {
	return j.stage
}

// Run executes the job. A returned error is always fatal and carries
// the partially filled result alongside it; row-level problems are in
// the result only.
func (j *Job) Run(ctx context.Context) (*ImportResult, error) {
	j.result = ImportResult{
		FileName:  filepath.Base(j.cfg.FilePath),
		StartedAt: time.Now(),
	}

	result, err := j.run(ctx)
	if err != nil {
		j.stage = StageFailed
		j.result.finish(StageFailed)
		j.observeOutcome(StageFailed)
		return &j.result, err
	}
	j.observeOutcome(result.Status)
	return result, nil
}

func (j *Job) run(ctx context.Context) (*ImportResult, error) {
	log := j.cfg.Logger.With("file", j.result.FileName)

	j.stage = StageReading
	info, err := os.Stat(j.cfg.FilePath)
	if err != nil {
		return nil, fatal(KindFileNotFound, j.result.FileName, StageReading, err)
	}
	j.result.FileSize = info.Size()

	src, err := j.openSource(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("failed to close source", "error", cerr)
		}
	}()

	meta := src.Meta()
	j.result.Encoding = meta.Encoding
	j.result.Delimiter = meta.Delimiter

	j.stage = StageMapping
	cols, err := MapColumns(src.Headers(), j.cfg.DataConfig)
	if err != nil {
		return nil, fatal(KindUnresolvableCols, j.result.FileName, StageMapping, err)
	}

	resolver, err := NewSensorResolver(ResolverConfig{
		Logger:         j.cfg.Logger,
		Sensors:        j.cfg.Sensors,
		SuitcaseID:     j.cfg.SuitcaseID,
		ExplicitSerial: j.cfg.ExplicitSerial,
	})
	if err != nil {
		return nil, err
	}

	sensor, err := resolver.Resolve(ctx, j.result.FileName, meta)
	if err != nil {
		return nil, fatal(KindNoSensorResolvable, j.result.FileName, StageMapping, err)
	}
	j.result.SensorSerial = sensor.SerialNumber

	writer, err := NewBatchWriter(WriterConfig{
		Logger:       j.cfg.Logger,
		Readings:     j.cfg.Readings,
		SensorID:     sensor.ID,
		ValidationID: j.cfg.ValidationID,
		FileName:     j.result.FileName,
		ChunkSize:    j.cfg.ChunkSize,
		Metrics:      j.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	j.stage = StageValidating
	vcfg := j.cfg.Validator
	if cfg := j.cfg.DataConfig; cfg != nil && cfg.DateFormat != "" {
		vcfg.TimestampLayout = cfg.DateFormat
	}
	validator := NewRowValidator(vcfg)

	cancelled := false
	for {
		if ctx.Err() != nil {
			// Cancelled between rows: keep the partial progress,
			// flush what is buffered, report a distinct status.
			cancelled = true
			break
		}

		row, ok, err := src.Next()
		if err != nil {
			return nil, fatal(j.unreadableKind(), j.result.FileName, StageValidating, err)
		}
		if !ok {
			break
		}
		if emptyRow(row) {
			continue
		}

		j.result.TotalRows++
		if j.cfg.Metrics != nil {
			j.cfg.Metrics.RowsRead.Inc()
		}

		reading, warning, rowErr := validator.Validate(row, cols)
		if rowErr != nil {
			j.result.Errors = append(j.result.Errors, *rowErr)
			j.result.FailedRows++
			if j.cfg.Metrics != nil {
				j.cfg.Metrics.RowsRejected.WithLabelValues(rowErr.Field).Inc()
			}
			continue
		}
		if warning != nil {
			j.result.Warnings = append(j.result.Warnings, *warning)
		}

		if err := writer.Add(ctx, reading); err != nil {
			return nil, err
		}
	}

	// The buffered tail is flushed on every exit path, cancelled
	// included; partial progress is kept, not rolled back.
	if err := writer.Flush(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}

	stats := writer.Stats()
	j.result.ProcessedRows = stats.Inserted
	j.result.SkippedRows = stats.Skipped
	j.result.FailedRows += stats.Failed
	j.result.Errors = append(j.result.Errors, stats.FlushErrors...)

	status := StageCompleted
	if cancelled {
		status = StageCancelled
	}
	j.stage = status
	j.result.finish(status)

	log.Info("import finished",
		"status", string(status),
		"total_rows", j.result.TotalRows,
		"processed_rows", j.result.ProcessedRows,
		"failed_rows", j.result.FailedRows,
		"skipped_rows", j.result.SkippedRows,
		"duration_ms", j.result.ProcessingTimeMs,
	)

	return &j.result, nil
}

// openSource opens the TableSource for the detected format, bounded
// by the parser timeout. A hung parse surfaces as a timeout, never a
// silent hang.
func (j *Job) openSource(ctx context.Context) (TableSource, error) {
	type opened struct {
		src TableSource
		err error
	}
	ch := make(chan opened, 1)

	format := DetectFormat(j.cfg.FilePath)
	go func() {
		var src TableSource
		var err error
		switch format {
		case FormatSpreadsheet:
			src, err = OpenWorkbook(j.cfg.FilePath, j.workbookOptions())
		default:
			src, err = OpenDelimited(j.cfg.FilePath, j.delimitedOptions())
		}
		ch <- opened{src: src, err: err}
	}()

	// Closes a source whose open outlives the timeout.
	drain := func() {
		if o := <-ch; o.src != nil {
			_ = o.src.Close()
		}
	}

	select {
	case <-ctx.Done():
		go drain()
		return nil, fatal(KindParserTimeout, j.result.FileName, StageReading, ctx.Err())
	case <-time.After(j.cfg.OpenTimeout):
		go drain()
		return nil, fatal(KindParserTimeout, j.result.FileName, StageReading,
			fmt.Errorf("parser did not open the file within %s", j.cfg.OpenTimeout))
	case o := <-ch:
		if o.err != nil {
			kind := j.unreadableKind()
			if errors.Is(o.err, ErrEmptySheet) {
				kind = KindEmptySheet
			}
			if errors.Is(o.err, ErrNotText) {
				kind = KindUnsupportedFormat
			}
			return nil, fatal(kind, j.result.FileName, StageReading, o.err)
		}
		return o.src, nil
	}
}

func (j *Job) unreadableKind() FatalKind {
	if DetectFormat(j.cfg.FilePath) == FormatSpreadsheet {
		return KindUnreadableWorkbook
	}
	return KindUnreadableText
}

func (j *Job) workbookOptions() WorkbookOptions {
	opts := WorkbookOptions{}
	if cfg := j.cfg.DataConfig; cfg != nil && cfg.StartRow > 1 {
		opts.HeaderRow = cfg.StartRow - 1
	}
	return opts
}

func (j *Job) delimitedOptions() DelimitedOptions {
	opts := DelimitedOptions{}
	if cfg := j.cfg.DataConfig; cfg != nil {
		if cfg.Separator != "" {
			opts.Separator = []rune(cfg.Separator)[0]
		}
		opts.Encoding = cfg.Encoding
		if cfg.HasHeader != nil && !*cfg.HasHeader {
			opts.NoHeader = true
		}
		if cfg.StartRow > 0 {
			opts.StartRow = cfg.StartRow
		}
	}
	return opts
}

func (j *Job) observeOutcome(status Stage) {
	if j.cfg.Metrics == nil {
		return
	}
	j.cfg.Metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	j.cfg.Metrics.JobDuration.Observe(j.result.elapsed.Seconds())
}

// emptyRow reports whether every cell in the row is blank.
func emptyRow(row Row) bool {
	for _, c := range row.Cells {
		if s, ok := c.(string); ok {
			if strings.TrimSpace(s) != "" {
				return false
			}
			continue
		}
		if c != nil {
			return false
		}
	}
	return true
}
