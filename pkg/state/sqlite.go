package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists state in a SQLite database. Suitable when several
// recipes share one state database or when run history needs to be queryable.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a SQLite-backed state store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// LoadState retrieves the state row for a recipe.
func (s *SQLiteStore) LoadState(ctx context.Context, recipe string) (*State, error) {
	query := `
		SELECT recipe, cursor, rows_loaded, last_run_id, updated_at
		FROM recipe_states
		WHERE recipe = ?
	`

	st := &State{}
	var cursorJSON string
	var lastRunID sql.NullString
	err := s.db.QueryRowContext(ctx, query, recipe).Scan(
		&st.Recipe,
		&cursorJSON,
		&st.RowsLoaded,
		&lastRunID,
		&st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	if lastRunID.Valid {
		st.LastRunID = lastRunID.String
	}
	if err := json.Unmarshal([]byte(cursorJSON), &st.Cursor); err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}
	return st, nil
}

// SaveState upserts the state row for a recipe.
func (s *SQLiteStore) SaveState(ctx context.Context, st *State) error {
	if st.Recipe == "" {
		return fmt.Errorf("state recipe name is required")
	}

	cursor := st.Cursor
	if cursor == nil {
		cursor = map[string]interface{}{}
	}
	cursorJSON, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("failed to encode cursor: %w", err)
	}

	updatedAt := st.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO recipe_states (recipe, cursor, rows_loaded, last_run_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(recipe) DO UPDATE SET
			cursor = excluded.cursor,
			rows_loaded = excluded.rows_loaded,
			last_run_id = excluded.last_run_id,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		st.Recipe,
		string(cursorJSON),
		st.RowsLoaded,
		nullString(st.LastRunID),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// DeleteState removes the state row for a recipe. Missing state is not an
// error.
func (s *SQLiteStore) DeleteState(ctx context.Context, recipe string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recipe_states WHERE recipe = ?`, recipe)
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// ListStates returns the recipe names that have saved state.
func (s *SQLiteStore) ListStates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT recipe FROM recipe_states ORDER BY recipe`)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating states: %w", err)
	}
	return names, nil
}

// RecordRun inserts a run record.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO runs (id, recipe, status, started_at, completed_at, rows_read, rows_written, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Recipe,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.RowsRead,
		run.RowsWritten,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a recipe, newest first. An empty
// recipe name matches all recipes.
func (s *SQLiteStore) ListRuns(ctx context.Context, recipe string, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, recipe, status, started_at, completed_at, rows_read, rows_written, error
		FROM runs
		WHERE (? = '' OR recipe = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, recipe, recipe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		if err := rows.Scan(
			&run.ID,
			&run.Recipe,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.RowsRead,
			&run.RowsWritten,
			&run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
