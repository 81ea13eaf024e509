package connectors

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func readAll(t *testing.T, src engine.Source, size int) []engine.Row {
	t.Helper()
	var rows []engine.Row
	for {
		b, err := src.ReadBatch(context.Background(), size)
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("ReadBatch() error = %v", err)
		}
		rows = append(rows, b.Rows...)
	}
}

func TestCSVSourceReadsTypedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	writeFile(t, path, "id,name,score\n1,alice,9.5\n2,bob,7.25\n3,carol,8\n")

	src, err := newCSVSource(recipe.SourceConfig{Type: "csv", Filepath: path})
	if err != nil {
		t.Fatalf("newCSVSource() error = %v", err)
	}
	if err := src.Open(context.Background(), state.NewState("test")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	rows := readAll(t, src, 2)
	if len(rows) != 3 {
		t.Fatalf("read %d rows, want 3", len(rows))
	}
	if rows[0]["id"] != int64(1) {
		t.Errorf("id = %v (%T), want int64(1)", rows[0]["id"], rows[0]["id"])
	}
	if rows[0]["name"] != "alice" {
		t.Errorf("name = %v", rows[0]["name"])
	}
	if rows[0]["score"] != 9.5 {
		t.Errorf("score = %v (%T), want 9.5", rows[0]["score"], rows[0]["score"])
	}
	// "8" parses as int but the column voted float.
	if rows[2]["score"] != 8.0 {
		t.Errorf("score = %v (%T), want 8.0", rows[2]["score"], rows[2]["score"])
	}
}

func TestCSVSourceIncrementalFiltersByCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	writeFile(t, path, "id,event\n1,a\n2,b\n3,c\n4,d\n")

	src, err := newCSVSource(recipe.SourceConfig{
		Type:     "csv",
		Filepath: path,
		Incremental: &recipe.IncrementalConfig{
			Strategy:     "cursor",
			CursorColumn: "id",
		},
	})
	if err != nil {
		t.Fatalf("newCSVSource() error = %v", err)
	}

	st := state.NewState("test")
	st.SetCursor("id", int64(2))
	if err := src.Open(context.Background(), st); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	rows := readAll(t, src, 10)
	if len(rows) != 2 {
		t.Fatalf("read %d rows, want 2", len(rows))
	}
	if rows[0]["id"] != int64(3) || rows[1]["id"] != int64(4) {
		t.Errorf("rows = %v", rows)
	}
}

func TestCSVSourceMissingFile(t *testing.T) {
	src, _ := newCSVSource(recipe.SourceConfig{Type: "csv", Filepath: "/nonexistent/x.csv"})

	err := src.Open(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !engine.IsPermanent(err) {
		t.Errorf("error should be permanent, got %v", err)
	}
}

func TestCSVDestinationWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	dst, err := newCSVDestination(recipe.DestinationConfig{
		Type:      "csv",
		Filepath:  path,
		WriteMode: "overwrite",
	})
	if err != nil {
		t.Fatalf("newCSVDestination() error = %v", err)
	}
	if err := dst.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	batch := &engine.Batch{Rows: []engine.Row{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	}}
	if err := dst.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	if err := dst.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := dst.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 3 {
		t.Fatalf("output has %d lines, want 3: %q", len(lines), content)
	}
	if lines[0] != "id,name" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1,alice" || lines[2] != "2,bob" {
		t.Errorf("rows = %q", lines[1:])
	}
}

func TestCSVDestinationAppendSkipsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	writeFile(t, path, "id,name\n1,alice\n")

	dst, err := newCSVDestination(recipe.DestinationConfig{
		Type:      "csv",
		Filepath:  path,
		WriteMode: "append",
	})
	if err != nil {
		t.Fatalf("newCSVDestination() error = %v", err)
	}
	if err := dst.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	batch := &engine.Batch{Rows: []engine.Row{{"id": int64(2), "name": "bob"}}}
	if err := dst.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	dst.Close()

	content, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 3 {
		t.Fatalf("output has %d lines, want 3: %q", len(lines), content)
	}
	if lines[2] != "2,bob" {
		t.Errorf("appended row = %q", lines[2])
	}
}

func TestCSVDestinationRejectsMerge(t *testing.T) {
	_, err := newCSVDestination(recipe.DestinationConfig{
		Type:      "csv",
		Filepath:  "out.csv",
		WriteMode: "merge",
	})
	if err == nil {
		t.Fatal("expected error for merge write mode")
	}
}

func TestInferColumnTypes(t *testing.T) {
	types := inferColumnTypes(
		[]string{"id", "score", "name", "mixed"},
		[][]string{
			{"1", "1.5", "alice", "1"},
			{"2", "2.0", "bob", "x"},
		},
	)
	if types["id"] != "int" {
		t.Errorf("id type = %s, want int", types["id"])
	}
	if types["score"] != "float" {
		t.Errorf("score type = %s, want float", types["score"])
	}
	if types["name"] != "string" {
		t.Errorf("name type = %s, want string", types["name"])
	}
}

func TestCursorAfter(t *testing.T) {
	tests := []struct {
		name   string
		row    interface{}
		cursor interface{}
		want   bool
	}{
		{"int greater", int64(5), int64(3), true},
		{"int equal", int64(3), int64(3), false},
		{"int less", int64(2), int64(3), false},
		{"numeric strings", "10", "9", true},
		{"timestamps", "2024-06-02T00:00:00Z", "2024-06-01T00:00:00Z", true},
		{"nil row value", nil, int64(3), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cursorAfter(tt.row, tt.cursor); got != tt.want {
				t.Errorf("cursorAfter(%v, %v) = %v, want %v", tt.row, tt.cursor, got, tt.want)
			}
		})
	}
}
