package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func TestTestConnectionCommand(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "users.csv"), "id,name\n1,alice\n2,bob\n")
	writeTestFile(t, filepath.Join(dir, "recipe.yaml"), `name: load_users
source:
  type: csv
  filepath: `+filepath.Join(dir, "users.csv")+`
destination:
  type: sqlite
  database: `+filepath.Join(dir, "out.db")+`
  table: users
`)

	cmd := newTestConnectionCommand()
	cmd.SetArgs([]string{filepath.Join(dir, "recipe.yaml")})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("test-connection error = %v", err)
	}
}

func TestTestConnectionCommandSourceFailure(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "recipe.yaml"), `name: load_users
source:
  type: csv
  filepath: `+filepath.Join(dir, "missing.csv")+`
destination:
  type: sqlite
  database: `+filepath.Join(dir, "out.db")+`
  table: users
`)

	cmd := newTestConnectionCommand()
	cmd.SetArgs([]string{filepath.Join(dir, "recipe.yaml")})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("test-connection expected error for missing source file, got nil")
	}
}

func TestTestConnectionCommandExpandsVars(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "users.csv"), "id,name\n1,alice\n")
	writeTestFile(t, filepath.Join(dir, "recipe.yaml"), `name: load_users
source:
  type: csv
  filepath: `+dir+`/{{ var('file') }}
destination:
  type: sqlite
  database: `+filepath.Join(dir, "out.db")+`
  table: users
`)

	cmd := newTestConnectionCommand()
	cmd.SetArgs([]string{filepath.Join(dir, "recipe.yaml"), "--var", "file=users.csv"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("test-connection error = %v", err)
	}
}
