package ingest

import (
	"sort"
	"time"
)

// Stage identifies where inside the pipeline a job currently is, or
// where it failed.
type Stage string

const (
	StagePending    Stage = "pending"
	StageReading    Stage = "reading"
	StageMapping    Stage = "mapping"
	StageValidating Stage = "validating"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
	StageCancelled  Stage = "cancelled"
)

// ImportResult is the per-job summary. It is produced once per
// invocation and never persisted; the readings are the durable side
// effect.
type ImportResult struct {
	FileName         string        `json:"fileName"`
	FileSize         int64         `json:"fileSize"`
	Encoding         string        `json:"encoding,omitempty"`
	Delimiter        string        `json:"delimiter,omitempty"`
	SensorSerial     string        `json:"sensorSerial,omitempty"`
	Status           Stage         `json:"status"`
	TotalRows        int           `json:"totalRows"`
	ProcessedRows    int           `json:"processedRows"`
	FailedRows       int           `json:"failedRows"`
	SkippedRows      int           `json:"skippedRows"`
	Errors           []RowError    `json:"errors,omitempty"`
	Warnings         []Warning     `json:"warnings,omitempty"`
	StartedAt        time.Time     `json:"startedAt"`
	FinishedAt       time.Time     `json:"finishedAt"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
	elapsed          time.Duration
}

// finish stamps the end of the job and orders the error and warning
// lists by ascending row number. Chunk flushes may complete out of
// order, so ordering is restored here rather than assumed.
func (r *ImportResult) finish(status Stage) {
	r.Status = status
	r.FinishedAt = time.Now()
	r.elapsed = r.FinishedAt.Sub(r.StartedAt)
	r.ProcessingTimeMs = r.elapsed.Milliseconds()

	sort.SliceStable(r.Errors, func(i, j int) bool {
		return r.Errors[i].Row < r.Errors[j].Row
	})
	sort.SliceStable(r.Warnings, func(i, j int) bool {
		return r.Warnings[i].Row < r.Warnings[j].Row
	})
}

// Summary is the single-line machine-readable payload printed by the
// CLI on success.
type Summary struct {
	File          string `json:"file"`
	SensorID      string `json:"sensorId"`
	ProcessedRows int    `json:"processedRows"`
	FailedLines   int    `json:"failedLines"`
}

// Summary converts the result into the CLI summary payload.
func (r *ImportResult) Summary() Summary {
	return Summary{
		File:          r.FileName,
		SensorID:      r.SensorSerial,
		ProcessedRows: r.ProcessedRows,
		FailedLines:   r.FailedRows,
	}
}
