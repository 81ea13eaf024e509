package connectors

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
)

// SQLiteSource reads a table from a SQLite database in batches. For
// incremental loads, the query filters on the cursor column server-side and
// orders by it so the last row of the run carries the highest cursor value.
type SQLiteSource struct {
	database    string
	table       string
	incremental *recipe.IncrementalConfig

	db      *sql.DB
	rows    *sql.Rows
	columns []string
}

func newSQLiteSource(cfg recipe.SourceConfig) (engine.Source, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("sqlite source requires 'database'")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("sqlite source requires 'table'")
	}
	return &SQLiteSource{
		database:    cfg.Database,
		table:       cfg.Table,
		incremental: cfg.Incremental,
	}, nil
}

func (s *SQLiteSource) Open(ctx context.Context, st *state.State) error {
	db, err := sql.Open("sqlite", s.database)
	if err != nil {
		return engine.NewPermanentError("failed to open SQLite database", err).
			WithConnector("sqlite").WithOperation("open")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return engine.NewPermanentError("failed to connect to SQLite database", err).
			WithConnector("sqlite").WithOperation("open")
	}

	query, args := s.buildQuery(st)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		db.Close()
		return engine.NewPermanentError("failed to query SQLite table", err).
			WithConnector("sqlite").WithOperation("open")
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		db.Close()
		return engine.NewPermanentError("failed to read result columns", err).
			WithConnector("sqlite").WithOperation("open")
	}

	s.db = db
	s.rows = rows
	s.columns = columns
	return nil
}

func (s *SQLiteSource) buildQuery(st *state.State) (string, []interface{}) {
	query := fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(s.table))
	var args []interface{}

	if s.incremental != nil {
		col := s.incremental.CursorColumn
		if st != nil {
			if cursor, ok := st.CursorValue(col); ok && cursor != nil {
				query += fmt.Sprintf(` WHERE %s > ?`, quoteIdent(col))
				args = append(args, cursor)
			}
		}
		query += fmt.Sprintf(` ORDER BY %s`, quoteIdent(col))
	}
	return query, args
}

func (s *SQLiteSource) ReadBatch(_ context.Context, size int) (*engine.Batch, error) {
	if s.rows == nil {
		return nil, fmt.Errorf("sqlite source not opened")
	}

	batch := &engine.Batch{Rows: make([]engine.Row, 0, size)}
	values := make([]interface{}, len(s.columns))
	scanArgs := make([]interface{}, len(s.columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for len(batch.Rows) < size && s.rows.Next() {
		if err := s.rows.Scan(scanArgs...); err != nil {
			return nil, engine.NewPermanentError("failed to scan row", err).
				WithConnector("sqlite").WithOperation("read")
		}
		row := make(engine.Row, len(s.columns))
		for i, col := range s.columns {
			row[col] = normalizeSQLValue(values[i])
		}
		batch.Rows = append(batch.Rows, row)
	}

	if err := s.rows.Err(); err != nil {
		return nil, engine.NewTransientError("failed to read rows", err).
			WithConnector("sqlite").WithOperation("read")
	}
	if len(batch.Rows) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (s *SQLiteSource) Close() error {
	var err error
	if s.rows != nil {
		err = s.rows.Close()
		s.rows = nil
	}
	if s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
		s.db = nil
	}
	return err
}

// SQLiteDestination writes batches to a SQLite table. The table is created
// from the first batch when missing, with column types inferred from the
// first row. Overwrite drops and recreates the table once per run; merge
// upserts on the configured merge keys.
type SQLiteDestination struct {
	database  string
	table     string
	writeMode string
	mergeKeys []string

	db         *sql.DB
	tableReady bool
	columns    []string
}

func newSQLiteDestination(cfg recipe.DestinationConfig) (engine.Destination, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("sqlite destination requires 'database'")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("sqlite destination requires 'table'")
	}
	mode := cfg.WriteMode
	if mode == "" {
		mode = "append"
	}
	if mode == "merge" && len(cfg.MergeKeys) == 0 {
		return nil, fmt.Errorf("sqlite destination merge mode requires 'merge_keys'")
	}
	return &SQLiteDestination{
		database:  cfg.Database,
		table:     cfg.Table,
		writeMode: mode,
		mergeKeys: cfg.MergeKeys,
	}, nil
}

func (d *SQLiteDestination) Open(ctx context.Context) error {
	dsn := d.database + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return engine.NewPermanentError("failed to open SQLite database", err).
			WithConnector("sqlite").WithOperation("open")
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return engine.NewPermanentError("failed to connect to SQLite database", err).
			WithConnector("sqlite").WithOperation("open")
	}
	d.db = db
	return nil
}

func (d *SQLiteDestination) WriteBatch(ctx context.Context, b *engine.Batch) error {
	if d.db == nil {
		return fmt.Errorf("sqlite destination not opened")
	}
	if b.Len() == 0 {
		return nil
	}

	if err := d.ensureTable(ctx, b); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return d.writeErr(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, d.insertSQL())
	if err != nil {
		return d.writeErr(err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(d.columns))
	for _, row := range b.Rows {
		for i, col := range d.columns {
			args[i] = bindSQLValue(row[col])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return d.writeErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return d.writeErr(err)
	}
	return nil
}

func (d *SQLiteDestination) writeErr(err error) error {
	return engine.NewTransientError("failed to write batch", err).
		WithConnector("sqlite").WithOperation("write")
}

// ensureTable creates or resets the destination table from the first batch.
func (d *SQLiteDestination) ensureTable(ctx context.Context, b *engine.Batch) error {
	if d.tableReady {
		return nil
	}

	d.columns = columnsOf(b)

	if d.writeMode == "overwrite" {
		if _, err := d.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(d.table))); err != nil {
			return engine.NewPermanentError("failed to drop table for overwrite", err).
				WithConnector("sqlite").WithOperation("write")
		}
	}

	defs := make([]string, len(d.columns))
	for i, col := range d.columns {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(col), sqliteTypeOf(b.Rows[0][col]))
	}
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, quoteIdent(d.table), strings.Join(defs, ", "))
	if _, err := d.db.ExecContext(ctx, createSQL); err != nil {
		return engine.NewPermanentError("failed to create table", err).
			WithConnector("sqlite").WithOperation("write")
	}

	if d.writeMode == "merge" {
		keys := make([]string, len(d.mergeKeys))
		for i, k := range d.mergeKeys {
			keys[i] = quoteIdent(k)
		}
		indexSQL := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)`,
			quoteIdent("idx_"+d.table+"_merge"), quoteIdent(d.table), strings.Join(keys, ", "))
		if _, err := d.db.ExecContext(ctx, indexSQL); err != nil {
			return engine.NewPermanentError("failed to create merge index", err).
				WithConnector("sqlite").WithOperation("write")
		}
	}

	d.tableReady = true
	return nil
}

func (d *SQLiteDestination) insertSQL() string {
	cols := make([]string, len(d.columns))
	placeholders := make([]string, len(d.columns))
	for i, col := range d.columns {
		cols[i] = quoteIdent(col)
		placeholders[i] = "?"
	}

	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(d.table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if d.writeMode != "merge" {
		return insert
	}

	keySet := make(map[string]bool, len(d.mergeKeys))
	keys := make([]string, len(d.mergeKeys))
	for i, k := range d.mergeKeys {
		keySet[k] = true
		keys[i] = quoteIdent(k)
	}

	var updates []string
	for _, col := range d.columns {
		if !keySet[col] {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoteIdent(col), quoteIdent(col)))
		}
	}
	if len(updates) == 0 {
		return insert + fmt.Sprintf(" ON CONFLICT(%s) DO NOTHING", strings.Join(keys, ", "))
	}
	return insert + fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s",
		strings.Join(keys, ", "), strings.Join(updates, ", "))
}

func (d *SQLiteDestination) Commit(_ context.Context) error {
	return nil // batches commit their own transactions
}

func (d *SQLiteDestination) Close() error {
	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

// quoteIdent quotes a SQL identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqliteTypeOf maps a row value to a SQLite column type.
func sqliteTypeOf(v interface{}) string {
	switch v.(type) {
	case int, int64, bool:
		return "INTEGER"
	case float64:
		return "REAL"
	case time.Time:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// normalizeSQLValue converts driver values to the row value conventions.
func normalizeSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}

// bindSQLValue converts a row value to a driver-friendly binding.
func bindSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
