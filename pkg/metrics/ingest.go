package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for the import pipeline.
type IngestMetrics struct {
	JobsTotal     *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	RowsRead      prometheus.Counter
	RowsRejected  *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	ChunksFlushed *prometheus.CounterVec
	FlushDuration prometheus.Histogram
}

// NewIngestMetrics creates and registers import pipeline metrics.
func NewIngestMetrics(namespace string) *IngestMetrics {
	m := &IngestMetrics{
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "jobs_total",
				Help:      "Total number of import jobs by outcome",
			},
			[]string{"status"}, // completed, failed, cancelled
		),
		JobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "job_duration_seconds",
				Help:      "Duration of import jobs",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		RowsRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rows_read_total",
				Help:      "Total number of data rows read from input files",
			},
		),
		RowsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rows_rejected_total",
				Help:      "Total number of rows rejected by validation",
			},
			[]string{"field"},
		),
		RowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rows_written_total",
				Help:      "Total number of rows offered to the store by outcome",
			},
			[]string{"outcome"}, // inserted, skipped, failed
		),
		ChunksFlushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "chunks_flushed_total",
				Help:      "Total number of chunk flushes by status",
			},
			[]string{"status"}, // success, error
		),
		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "flush_duration_seconds",
				Help:      "Duration of bulk insert flushes",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.RowsRead,
		m.RowsRejected,
		m.RowsWritten,
		m.ChunksFlushed,
		m.FlushDuration,
	)

	return m
}
