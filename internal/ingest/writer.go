package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procodus.dev/telemetry-import/internal/store"
	"procodus.dev/telemetry-import/pkg/metrics"
)

// DefaultChunkSize is the number of buffered readings flushed per
// bulk insert.
const DefaultChunkSize = 1000

// WriterConfig holds the configuration for the BatchWriter.
type WriterConfig struct {
	Logger   *slog.Logger
	Readings *store.ReadingStore
	// SensorID is the resolved sensor every reading belongs to.
	SensorID uint
	// ValidationID optionally scopes the readings to a validation
	// run.
	ValidationID *uint
	// FileName is recorded on every reading for provenance.
	FileName string
	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int
	// Metrics is optional.
	Metrics *metrics.IngestMetrics
}

// WriterStats aggregates the outcome of all flushes.
type WriterStats struct {
	// Inserted rows are fresh; Skipped hit an existing natural key;
	// Failed belonged to a chunk whose insert failed outright.
	Inserted int
	Skipped  int
	Failed   int
	// FlushErrors carries one entry per failed chunk, row-scoped to
	// the chunk's first row.
	FlushErrors []RowError
}

// BatchWriter buffers accepted readings and bulk-inserts them in
// fixed-size chunks with duplicate-skip semantics. A failing chunk is
// counted and dropped, never retried within the run, and does not
// stop later chunks.
type BatchWriter struct {
	cfg   WriterConfig
	buf   []store.SensorReading
	first int // row number of the first buffered reading
	stats WriterStats
}

// NewBatchWriter creates a BatchWriter.
func NewBatchWriter(cfg WriterConfig) (*BatchWriter, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Readings == nil {
		return nil, errors.New("reading store cannot be nil")
	}
	if cfg.SensorID == 0 {
		return nil, errors.New("sensor id cannot be zero")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &BatchWriter{
		cfg: cfg,
		buf: make([]store.SensorReading, 0, cfg.ChunkSize),
	}, nil
}

// Add buffers one accepted reading, flushing when the chunk is full.
func (w *BatchWriter) Add(ctx context.Context, r Reading) error {
	if len(w.buf) == 0 {
		w.first = r.RowNumber
	}
	w.buf = append(w.buf, store.SensorReading{
		SensorID:     w.cfg.SensorID,
		Timestamp:    r.Timestamp,
		Temperature:  r.Temperature,
		Humidity:     r.Humidity,
		FileName:     w.cfg.FileName,
		RowNumber:    r.RowNumber,
		ValidationID: w.cfg.ValidationID,
	})

	if len(w.buf) >= w.cfg.ChunkSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered chunk. The buffer is cleared whether or
// not the insert succeeds; an insert failure marks the chunk's rows
// failed and is recorded, not returned, so the pipeline proceeds.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	chunk := w.buf
	w.buf = make([]store.SensorReading, 0, w.cfg.ChunkSize)

	start := time.Now()
	inserted, err := w.cfg.Readings.InsertBatch(ctx, chunk)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		w.stats.Failed += len(chunk)
		w.stats.FlushErrors = append(w.stats.FlushErrors, RowError{
			Row:     w.first,
			Field:   "write",
			Message: fmt.Sprintf("bulk insert of %d rows failed: %v", len(chunk), err),
		})
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ChunksFlushed.WithLabelValues("error").Inc()
			w.cfg.Metrics.RowsWritten.WithLabelValues("failed").Add(float64(len(chunk)))
		}
		w.cfg.Logger.Error("chunk insert failed",
			"rows", len(chunk),
			"first_row", w.first,
			"error", err,
		)
		return nil
	}

	skipped := len(chunk) - int(inserted)
	w.stats.Inserted += int(inserted)
	w.stats.Skipped += skipped

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ChunksFlushed.WithLabelValues("success").Inc()
		w.cfg.Metrics.RowsWritten.WithLabelValues("inserted").Add(float64(inserted))
		w.cfg.Metrics.RowsWritten.WithLabelValues("skipped").Add(float64(skipped))
	}

	w.cfg.Logger.Debug("chunk flushed",
		"rows", len(chunk),
		"inserted", inserted,
		"skipped", skipped,
	)
	return nil
}

// Stats returns the accumulated flush outcome.
func (w *BatchWriter) Stats() WriterStats {
	return w.stats
}
