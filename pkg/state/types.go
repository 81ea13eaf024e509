package state

import (
	"context"
	"errors"
	"time"
)

// ErrStateNotFound is returned when no state exists for a recipe. Callers
// typically treat this as a fresh pipeline with an empty cursor.
var ErrStateNotFound = errors.New("state not found")

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// State holds the persisted progress of a recipe between runs.
type State struct {
	// Recipe is the recipe name this state belongs to.
	Recipe string `json:"recipe"`

	// Cursor maps cursor column names to the highest value loaded so far.
	// Used by incremental sources to resume where the last run stopped.
	Cursor map[string]interface{} `json:"cursor,omitempty"`

	// RowsLoaded is the cumulative number of rows written across all runs.
	RowsLoaded int64 `json:"rows_loaded"`

	// LastRunID is the ID of the most recent run that saved this state.
	LastRunID string `json:"last_run_id,omitempty"`

	// UpdatedAt is when this state was last saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns an empty state for the given recipe.
func NewState(recipe string) *State {
	return &State{
		Recipe: recipe,
		Cursor: make(map[string]interface{}),
	}
}

// CursorValue returns the stored cursor value for a column, if any.
func (s *State) CursorValue(column string) (interface{}, bool) {
	if s.Cursor == nil {
		return nil, false
	}
	v, ok := s.Cursor[column]
	return v, ok
}

// SetCursor records the latest cursor value for a column.
func (s *State) SetCursor(column string, value interface{}) {
	if s.Cursor == nil {
		s.Cursor = make(map[string]interface{})
	}
	s.Cursor[column] = value
}

// RunRecord is the durable record of a single pipeline run.
type RunRecord struct {
	ID          string     `json:"id"`
	Recipe      string     `json:"recipe"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RowsRead    int64      `json:"rows_read"`
	RowsWritten int64      `json:"rows_written"`
	Error       *string    `json:"error,omitempty"`
}

// Store defines the interface for state persistence backends.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error

	// State operations
	LoadState(ctx context.Context, recipe string) (*State, error)
	SaveState(ctx context.Context, st *State) error
	DeleteState(ctx context.Context, recipe string) error
	ListStates(ctx context.Context) ([]string, error)

	// Run history
	RecordRun(ctx context.Context, run *RunRecord) error
	ListRuns(ctx context.Context, recipe string, limit int) ([]*RunRecord, error)
}
