package engine

import (
	"time"
)

// Row is a single record flowing through the pipeline. Keys are column names.
type Row map[string]interface{}

// Copy returns a shallow copy of the row. Column values are shared; callers
// that mutate nested values must copy them first.
func (r Row) Copy() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Batch is an ordered group of rows processed as a unit. Batches carry a
// sequence number assigned by the source reader so downstream stages can
// report which batch failed.
type Batch struct {
	// Seq is the zero-based sequence number of this batch within the run.
	Seq int

	// Rows are the records in this batch.
	Rows []Row
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// RunStatus represents the terminal status of a pipeline run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunResult summarizes a completed pipeline run.
type RunResult struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Recipe is the recipe name that was executed.
	Recipe string `json:"recipe"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// RowsRead is the total number of rows read from the source.
	RowsRead int64 `json:"rows_read"`

	// RowsWritten is the total number of rows written to the destination.
	RowsWritten int64 `json:"rows_written"`

	// Batches is the number of batches processed.
	Batches int `json:"batches"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Err is the error that failed the run, if any.
	Err error `json:"-"`
}

// Duration returns the total run duration.
func (r *RunResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
