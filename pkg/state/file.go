package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists state as JSON files under a directory, one file per
// recipe, with run history appended to a JSON-lines log. Writes go through a
// temp file and rename so a crashed run never leaves a torn state file.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file-backed state store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	return &FileStore{dir: dir}, nil
}

// Init creates the state directory if it does not exist.
func (s *FileStore) Init(_ context.Context) error {
	return os.MkdirAll(s.dir, 0o755)
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) statePath(recipe string) string {
	return filepath.Join(s.dir, recipe+".state.json")
}

func (s *FileStore) runsPath() string {
	return filepath.Join(s.dir, "runs.jsonl")
}

// LoadState reads the state file for a recipe.
func (s *FileStore) LoadState(_ context.Context, recipe string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath(recipe))
	if os.IsNotExist(err) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}
	return st, nil
}

// SaveState writes the state file for a recipe atomically.
func (s *FileStore) SaveState(_ context.Context, st *State) error {
	if st.Recipe == "" {
		return fmt.Errorf("state recipe name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	path := s.statePath(st.Recipe)
	tmp, err := os.CreateTemp(s.dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// DeleteState removes the state file for a recipe. Missing state is not an
// error.
func (s *FileStore) DeleteState(_ context.Context, recipe string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.statePath(recipe))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// ListStates returns the recipe names that have saved state.
func (s *FileStore) ListStates(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".state.json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".state.json"))
	}
	sort.Strings(names)
	return names, nil
}

// RecordRun appends a run record to the run log.
func (s *FileStore) RecordRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}

	f, err := os.OpenFile(s.runsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append run record: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a recipe, newest first. An empty
// recipe name matches all recipes.
func (s *FileStore) ListRuns(_ context.Context, recipe string, limit int) ([]*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.runsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	var runs []*RunRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		run := &RunRecord{}
		if err := json.Unmarshal(line, run); err != nil {
			return nil, fmt.Errorf("failed to decode run record: %w", err)
		}
		if recipe != "" && run.Recipe != recipe {
			continue
		}
		runs = append(runs, run)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}

	// Newest first.
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
