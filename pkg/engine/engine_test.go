package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
)

// memSource serves a fixed set of rows in batches.
type memSource struct {
	rows    []Row
	pos     int
	opened  *state.State
	failErr error
}

func (s *memSource) Open(_ context.Context, st *state.State) error {
	s.opened = st
	return nil
}

func (s *memSource) ReadBatch(_ context.Context, size int) (*Batch, error) {
	if s.failErr != nil {
		return nil, s.failErr
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	end := s.pos + size
	if end > len(s.rows) {
		end = len(s.rows)
	}
	b := &Batch{Rows: s.rows[s.pos:end]}
	s.pos = end
	return b, nil
}

func (s *memSource) Close() error { return nil }

// memDestination records written batches; it can fail the first N writes.
type memDestination struct {
	mu        sync.Mutex
	batches   []*Batch
	committed bool
	failures  int
	failWith  error
}

func (d *memDestination) Open(context.Context) error { return nil }

func (d *memDestination) WriteBatch(_ context.Context, b *Batch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return d.failWith
	}
	d.batches = append(d.batches, b)
	return nil
}

func (d *memDestination) Commit(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.committed = true
	return nil
}

func (d *memDestination) Close() error { return nil }

func (d *memDestination) rowCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.batches {
		n += b.Len()
	}
	return n
}

// namedTransform applies fn to every row.
type namedTransform struct {
	name string
	fn   func(Row) Row // nil result drops the row
}

func (t *namedTransform) Name() string { return t.name }

func (t *namedTransform) Apply(_ context.Context, b *Batch) (*Batch, error) {
	out := &Batch{Seq: b.Seq}
	for _, row := range b.Rows {
		if r := t.fn(row); r != nil {
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

// failingTransform always errors.
type failingTransform struct{}

func (failingTransform) Name() string { return "boom" }

func (failingTransform) Apply(context.Context, *Batch) (*Batch, error) {
	return nil, fmt.Errorf("bad expression")
}

// memStore is an in-memory state.Store.
type memStore struct {
	mu     sync.Mutex
	states map[string]*state.State
	runs   []*state.RunRecord
	saves  int
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]*state.State)}
}

func (m *memStore) Init(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) LoadState(_ context.Context, recipe string) (*state.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[recipe]
	if !ok {
		return nil, state.ErrStateNotFound
	}
	return st, nil
}

func (m *memStore) SaveState(_ context.Context, st *state.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Recipe] = st
	m.saves++
	return nil
}

func (m *memStore) DeleteState(_ context.Context, recipe string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, recipe)
	return nil
}

func (m *memStore) ListStates(context.Context) ([]string, error) { return nil, nil }

func (m *memStore) RecordRun(_ context.Context, run *state.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) ListRuns(context.Context, string, int) ([]*state.RunRecord, error) {
	return nil, nil
}

func testRecipe(batchSize, parallelism, maxRetries int) *recipe.Recipe {
	return &recipe.Recipe{
		Name:        "load_users",
		Source:      recipe.SourceConfig{Type: "csv"},
		Destination: recipe.DestinationConfig{Type: "sqlite", WriteMode: "append"},
		Runtime: recipe.RuntimeConfig{
			BatchSize:   batchSize,
			Parallelism: parallelism,
			MaxRetries:  maxRetries,
		},
	}
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{"id": i + 1, "name": fmt.Sprintf("user%d", i+1)}
	}
	return rows
}

func TestRunHappyPath(t *testing.T) {
	src := &memSource{rows: makeRows(25)}
	dst := &memDestination{}
	store := newMemStore()

	eng := New(Options{})
	result, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 0),
		Source:      src,
		Destination: dst,
		Store:       store,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != RunStatusSucceeded {
		t.Errorf("Status = %q, want succeeded", result.Status)
	}
	if result.RowsRead != 25 || result.RowsWritten != 25 {
		t.Errorf("rows read/written = %d/%d, want 25/25", result.RowsRead, result.RowsWritten)
	}
	if result.Batches != 3 {
		t.Errorf("Batches = %d, want 3", result.Batches)
	}
	if dst.rowCount() != 25 {
		t.Errorf("destination received %d rows, want 25", dst.rowCount())
	}
	if !dst.committed {
		t.Error("destination was not committed")
	}

	st, err := store.LoadState(context.Background(), "load_users")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if st.RowsLoaded != 25 {
		t.Errorf("state RowsLoaded = %d, want 25", st.RowsLoaded)
	}
	if st.LastRunID != result.RunID {
		t.Errorf("state LastRunID = %q, want %q", st.LastRunID, result.RunID)
	}

	if len(store.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(store.runs))
	}
	if store.runs[0].Status != state.RunStatusSucceeded {
		t.Errorf("run record status = %q, want succeeded", store.runs[0].Status)
	}
}

func TestRunAppliesTransformsInOrder(t *testing.T) {
	src := &memSource{rows: makeRows(4)}
	dst := &memDestination{}

	first := &namedTransform{name: "add_column", fn: func(r Row) Row {
		out := r.Copy()
		out["stage"] = "first"
		return out
	}}
	second := &namedTransform{name: "rename_columns", fn: func(r Row) Row {
		out := r.Copy()
		out["stage"] = out["stage"].(string) + ",second"
		return out
	}}

	eng := New(Options{})
	_, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 0),
		Source:      src,
		Transforms:  []Transform{first, second},
		Destination: dst,
		Store:       newMemStore(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, b := range dst.batches {
		for _, row := range b.Rows {
			if row["stage"] != "first,second" {
				t.Fatalf("row stage = %v, want first,second", row["stage"])
			}
		}
	}
}

func TestRunFilteredRowsNotWritten(t *testing.T) {
	src := &memSource{rows: makeRows(10)}
	dst := &memDestination{}

	// Keep only even ids.
	filter := &namedTransform{name: "filter", fn: func(r Row) Row {
		if r["id"].(int)%2 == 0 {
			return r
		}
		return nil
	}}

	eng := New(Options{})
	result, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 0),
		Source:      src,
		Transforms:  []Transform{filter},
		Destination: dst,
		Store:       newMemStore(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.RowsRead != 10 {
		t.Errorf("RowsRead = %d, want 10", result.RowsRead)
	}
	if result.RowsWritten != 5 {
		t.Errorf("RowsWritten = %d, want 5", result.RowsWritten)
	}
	if dst.rowCount() != 5 {
		t.Errorf("destination received %d rows, want 5", dst.rowCount())
	}
}

func TestRunRetriesTransientWriteFailures(t *testing.T) {
	src := &memSource{rows: makeRows(5)}
	dst := &memDestination{
		failures: 2,
		failWith: NewTransientError("connection reset", nil),
	}

	eng := New(Options{})
	result, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 3),
		Source:      src,
		Destination: dst,
		Store:       newMemStore(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != RunStatusSucceeded {
		t.Errorf("Status = %q, want succeeded", result.Status)
	}
	if dst.rowCount() != 5 {
		t.Errorf("destination received %d rows, want 5", dst.rowCount())
	}
}

func TestRunPermanentWriteFailureAborts(t *testing.T) {
	src := &memSource{rows: makeRows(5)}
	dst := &memDestination{
		failures: 1,
		failWith: NewPermanentError("table does not exist", nil),
	}
	store := newMemStore()

	eng := New(Options{})
	result, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 5),
		Source:      src,
		Destination: dst,
		Store:       store,
	})
	if err == nil {
		t.Fatal("Run() expected error, got nil")
	}
	if result.Status != RunStatusFailed {
		t.Errorf("Status = %q, want failed", result.Status)
	}
	if !IsPermanent(err) {
		t.Errorf("error %v is not classified permanent", err)
	}
	if dst.rowCount() != 0 {
		t.Errorf("destination received %d rows after permanent failure, want 0", dst.rowCount())
	}
	if len(store.runs) != 1 || store.runs[0].Status != state.RunStatusFailed {
		t.Errorf("run record = %+v, want one failed record", store.runs)
	}
}

func TestRunRetriesExhausted(t *testing.T) {
	src := &memSource{rows: makeRows(5)}
	dst := &memDestination{
		failures: 10,
		failWith: NewTransientError("connection reset", nil),
	}

	eng := New(Options{})
	_, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 2),
		Source:      src,
		Destination: dst,
		Store:       newMemStore(),
	})
	if err == nil {
		t.Fatal("Run() expected error after exhausted retries, got nil")
	}
	if !IsTransient(err) {
		t.Errorf("error %v should carry the transient classification", err)
	}
}

func TestRunTransformFailureIsPermanent(t *testing.T) {
	src := &memSource{rows: makeRows(5)}

	eng := New(Options{})
	_, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 3),
		Source:      src,
		Transforms:  []Transform{failingTransform{}},
		Destination: &memDestination{},
		Store:       newMemStore(),
	})
	if err == nil {
		t.Fatal("Run() expected error, got nil")
	}
	if !IsPermanent(err) {
		t.Errorf("transform error %v should be permanent", err)
	}
}

func TestRunAdvancesIncrementalCursor(t *testing.T) {
	rec := testRecipe(3, 1, 0)
	rec.Source.Incremental = &recipe.IncrementalConfig{
		Strategy:     "cursor",
		CursorColumn: "id",
	}

	src := &memSource{rows: makeRows(7)}
	store := newMemStore()

	eng := New(Options{})
	_, err := eng.Run(context.Background(), Pipeline{
		Recipe:      rec,
		Source:      src,
		Destination: &memDestination{},
		Store:       store,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st, err := store.LoadState(context.Background(), "load_users")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if v, ok := st.CursorValue("id"); !ok || v != 7 {
		t.Errorf("cursor id = (%v, %v), want 7", v, ok)
	}
}

func TestRunPassesSavedStateToSource(t *testing.T) {
	store := newMemStore()
	prior := state.NewState("load_users")
	prior.SetCursor("id", 100)
	if err := store.SaveState(context.Background(), prior); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	src := &memSource{rows: makeRows(2)}
	eng := New(Options{})
	_, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 0),
		Source:      src,
		Destination: &memDestination{},
		Store:       store,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if src.opened == nil {
		t.Fatal("source never received state")
	}
	if v, ok := src.opened.CursorValue("id"); !ok || v != 100 {
		t.Errorf("source state cursor id = (%v, %v), want 100", v, ok)
	}
}

func TestRunParallelismWritesEveryRowOnce(t *testing.T) {
	rec := testRecipe(5, 4, 0)
	src := &memSource{rows: makeRows(100)}
	dst := &memDestination{}

	eng := New(Options{})
	result, err := eng.Run(context.Background(), Pipeline{
		Recipe:      rec,
		Source:      src,
		Destination: dst,
		Store:       newMemStore(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.RowsWritten != 100 {
		t.Errorf("RowsWritten = %d, want 100", result.RowsWritten)
	}

	seen := make(map[int]int)
	for _, b := range dst.batches {
		for _, row := range b.Rows {
			seen[row["id"].(int)]++
		}
	}
	if len(seen) != 100 {
		t.Fatalf("destination saw %d distinct ids, want 100", len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("id %d written %d times", id, count)
		}
	}
}

func TestRunSourceReadErrorFailsRun(t *testing.T) {
	src := &memSource{failErr: fmt.Errorf("disk gone")}

	eng := New(Options{})
	result, err := eng.Run(context.Background(), Pipeline{
		Recipe:      testRecipe(10, 1, 0),
		Source:      src,
		Destination: &memDestination{},
		Store:       newMemStore(),
	})
	if err == nil {
		t.Fatal("Run() expected error, got nil")
	}
	if result.Status != RunStatusFailed {
		t.Errorf("Status = %q, want failed", result.Status)
	}
	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v is not a PipelineError", err)
	}
	if pe.Connector != "csv" || pe.Operation != "read" {
		t.Errorf("error context = (%q, %q), want (csv, read)", pe.Connector, pe.Operation)
	}
}

func TestPipelineValidation(t *testing.T) {
	eng := New(Options{})
	_, err := eng.Run(context.Background(), Pipeline{})
	if err == nil {
		t.Fatal("Run() with empty pipeline expected error")
	}
	if !IsPermanent(err) {
		t.Errorf("validation error %v should be permanent", err)
	}
}

func TestErrorClassification(t *testing.T) {
	transient := NewTransientError("t", nil)
	throttled := NewThrottledError("th", nil)
	permanent := NewPermanentError("p", nil)

	if !IsRetryable(transient) || !IsRetryable(throttled) {
		t.Error("transient and throttled errors must be retryable")
	}
	if IsRetryable(permanent) {
		t.Error("permanent errors must not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("unclassified errors must not be retryable")
	}

	wrapped := fmt.Errorf("outer: %w", transient.WithConnector("api").WithOperation("read"))
	if !IsTransient(wrapped) {
		t.Error("classification must survive wrapping")
	}
}

func TestCursorLess(t *testing.T) {
	tests := []struct {
		a, b interface{}
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{int64(5), float64(6), true},
		{"2024-01-01", "2024-06-01", true},
		{"2024-06-01", "2024-01-01", false},
		{"abc", "abc", false},
	}
	for _, tt := range tests {
		if got := cursorLess(tt.a, tt.b); got != tt.want {
			t.Errorf("cursorLess(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
