package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFileStoreStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer store.Close()

	if _, err := store.LoadState(ctx, "load_users"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("LoadState() before save error = %v, want ErrStateNotFound", err)
	}

	st := NewState("load_users")
	st.SetCursor("updated_at", "2024-06-01T00:00:00Z")
	st.RowsLoaded = 1200
	st.LastRunID = "run-1"
	st.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	if err := store.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	got, err := store.LoadState(ctx, "load_users")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if got.Recipe != "load_users" {
		t.Errorf("Recipe = %q, want load_users", got.Recipe)
	}
	if got.RowsLoaded != 1200 {
		t.Errorf("RowsLoaded = %d, want 1200", got.RowsLoaded)
	}
	if got.LastRunID != "run-1" {
		t.Errorf("LastRunID = %q, want run-1", got.LastRunID)
	}
	if v, ok := got.CursorValue("updated_at"); !ok || v != "2024-06-01T00:00:00Z" {
		t.Errorf("CursorValue(updated_at) = (%v, %v)", v, ok)
	}
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	st := NewState("orders")
	st.SetCursor("id", float64(100))
	if err := store.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	st.SetCursor("id", float64(250))
	st.RowsLoaded = 250
	if err := store.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState() second error = %v", err)
	}

	got, err := store.LoadState(ctx, "orders")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if v, _ := got.CursorValue("id"); v != float64(250) {
		t.Errorf("CursorValue(id) = %v, want 250", v)
	}
	if got.RowsLoaded != 250 {
		t.Errorf("RowsLoaded = %d, want 250", got.RowsLoaded)
	}
}

func TestFileStoreDeleteAndList(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	for _, name := range []string{"b_recipe", "a_recipe"} {
		if err := store.SaveState(ctx, NewState(name)); err != nil {
			t.Fatalf("SaveState(%s) error = %v", name, err)
		}
	}

	names, err := store.ListStates(ctx)
	if err != nil {
		t.Fatalf("ListStates() error = %v", err)
	}
	if len(names) != 2 || names[0] != "a_recipe" || names[1] != "b_recipe" {
		t.Errorf("ListStates() = %v, want [a_recipe b_recipe]", names)
	}

	if err := store.DeleteState(ctx, "a_recipe"); err != nil {
		t.Fatalf("DeleteState() error = %v", err)
	}
	// Deleting absent state is not an error.
	if err := store.DeleteState(ctx, "a_recipe"); err != nil {
		t.Errorf("DeleteState() of absent state error = %v", err)
	}

	if _, err := store.LoadState(ctx, "a_recipe"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("LoadState() after delete error = %v, want ErrStateNotFound", err)
	}
}

func TestFileStoreRunHistory(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []*RunRecord{
		{ID: "run-1", Recipe: "load_users", Status: RunStatusSucceeded, StartedAt: base, RowsWritten: 100},
		{ID: "run-2", Recipe: "load_users", Status: RunStatusFailed, StartedAt: base.Add(time.Hour)},
		{ID: "run-3", Recipe: "load_orders", Status: RunStatusSucceeded, StartedAt: base.Add(2 * time.Hour)},
	}
	for _, r := range records {
		if err := store.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", r.ID, err)
		}
	}

	runs, err := store.ListRuns(ctx, "load_users", 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() returned %d runs, want 2", len(runs))
	}
	// Newest first.
	if runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Errorf("ListRuns() order = [%s %s], want [run-2 run-1]", runs[0].ID, runs[1].ID)
	}

	all, err := store.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRuns(all) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(all) returned %d runs, want 3", len(all))
	}

	limited, err := store.ListRuns(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListRuns(limit 1) error = %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "run-3" {
		t.Errorf("ListRuns(limit 1) = %v, want [run-3]", limited)
	}
}

func TestFileStoreListEmptyDir(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	names, err := store.ListStates(ctx)
	if err != nil {
		t.Fatalf("ListStates() error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("ListStates() = %v, want empty", names)
	}

	runs, err := store.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("ListRuns() = %v, want empty", runs)
	}
}
