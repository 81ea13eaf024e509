package connectors

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
)

// CSVSource reads a local CSV file in batches. The first record is the
// header. Column types are inferred from a sample of the first batch and
// applied to every row. For incremental loads, rows at or below the saved
// cursor are filtered out after reading.
type CSVSource struct {
	path        string
	incremental *recipe.IncrementalConfig

	file    *os.File
	reader  *csv.Reader
	columns []string
	types   map[string]string
	cursor  interface{}
}

func newCSVSource(cfg recipe.SourceConfig) (engine.Source, error) {
	if cfg.Filepath == "" {
		return nil, fmt.Errorf("csv source requires 'filepath'")
	}
	return &CSVSource{path: cfg.Filepath, incremental: cfg.Incremental}, nil
}

func (s *CSVSource) Open(_ context.Context, st *state.State) error {
	f, err := os.Open(s.path)
	if err != nil {
		return engine.NewPermanentError("failed to open CSV file", err).
			WithConnector("csv").WithOperation("open")
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return engine.NewPermanentError("CSV file is empty", nil).
				WithConnector("csv").WithOperation("open")
		}
		return engine.NewPermanentError("failed to read CSV header", err).
			WithConnector("csv").WithOperation("open")
	}

	s.file = f
	s.reader = reader
	s.columns = header

	if s.incremental != nil && st != nil {
		if v, ok := st.CursorValue(s.incremental.CursorColumn); ok {
			s.cursor = v
		}
	}
	return nil
}

func (s *CSVSource) ReadBatch(_ context.Context, size int) (*engine.Batch, error) {
	if s.reader == nil {
		return nil, fmt.Errorf("csv source not opened")
	}

	for {
		records := make([][]string, 0, size)
		for len(records) < size {
			record, err := s.reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, engine.NewPermanentError("failed to read CSV record", err).
					WithConnector("csv").WithOperation("read")
			}
			records = append(records, record)
		}
		if len(records) == 0 {
			return nil, io.EOF
		}

		if s.types == nil {
			sample := records
			if len(sample) > 100 {
				sample = sample[:100]
			}
			s.types = inferColumnTypes(s.columns, sample)
		}

		rows := make([]engine.Row, 0, len(records))
		for _, record := range records {
			row := make(engine.Row, len(s.columns))
			for i, col := range s.columns {
				if i < len(record) {
					row[col] = convertField(record[i], s.types[col])
				} else {
					row[col] = nil
				}
			}
			if s.cursor != nil && !cursorAfter(row[s.incremental.CursorColumn], s.cursor) {
				continue
			}
			rows = append(rows, row)
		}

		// A batch fully below the cursor yields nothing; read on.
		if len(rows) == 0 {
			continue
		}

		return &engine.Batch{Rows: rows}, nil
	}
}

func (s *CSVSource) Close() error {
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		s.reader = nil
		return err
	}
	return nil
}

// CSVDestination writes batches to a local CSV file. The header is taken
// from the first batch's columns, sorted. Overwrite truncates the file on
// open; append writes a header only when the file starts empty.
type CSVDestination struct {
	path      string
	writeMode string

	file    *os.File
	writer  *csv.Writer
	columns []string
}

func newCSVDestination(cfg recipe.DestinationConfig) (engine.Destination, error) {
	if cfg.Filepath == "" {
		return nil, fmt.Errorf("csv destination requires 'filepath'")
	}
	mode := cfg.WriteMode
	if mode == "" {
		mode = "append"
	}
	if mode == "merge" {
		return nil, fmt.Errorf("csv destination does not support merge write mode")
	}
	return &CSVDestination{path: cfg.Filepath, writeMode: mode}, nil
}

func (d *CSVDestination) Open(_ context.Context) error {
	if dir := filepath.Dir(d.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return engine.NewPermanentError("failed to create directory", err).
				WithConnector("csv").WithOperation("open")
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if d.writeMode == "overwrite" {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	f, err := os.OpenFile(d.path, flags, 0o644)
	if err != nil {
		return engine.NewPermanentError("failed to open CSV file", err).
			WithConnector("csv").WithOperation("open")
	}

	d.file = f
	d.writer = csv.NewWriter(f)
	return nil
}

func (d *CSVDestination) WriteBatch(_ context.Context, b *engine.Batch) error {
	if d.writer == nil {
		return fmt.Errorf("csv destination not opened")
	}

	if d.columns == nil {
		d.columns = columnsOf(b)
		needHeader := d.writeMode == "overwrite"
		if !needHeader {
			info, err := d.file.Stat()
			if err == nil && info.Size() == 0 {
				needHeader = true
			}
		}
		if needHeader {
			if err := d.writer.Write(d.columns); err != nil {
				return d.writeErr(err)
			}
		}
	}

	for _, row := range b.Rows {
		record := make([]string, len(d.columns))
		for i, col := range d.columns {
			record[i] = formatField(row[col])
		}
		if err := d.writer.Write(record); err != nil {
			return d.writeErr(err)
		}
	}

	d.writer.Flush()
	return d.writeErr(d.writer.Error())
}

func (d *CSVDestination) writeErr(err error) error {
	if err == nil {
		return nil
	}
	return engine.NewTransientError("failed to write CSV records", err).
		WithConnector("csv").WithOperation("write")
}

func (d *CSVDestination) Commit(_ context.Context) error {
	if d.file == nil {
		return nil
	}
	d.writer.Flush()
	if err := d.writer.Error(); err != nil {
		return d.writeErr(err)
	}
	if err := d.file.Sync(); err != nil {
		return d.writeErr(err)
	}
	return nil
}

func (d *CSVDestination) Close() error {
	if d.file != nil {
		d.writer.Flush()
		err := d.file.Close()
		d.file = nil
		d.writer = nil
		return err
	}
	return nil
}

// columnsOf returns the sorted column names of a batch's first row.
func columnsOf(b *engine.Batch) []string {
	if b.Len() == 0 {
		return nil
	}
	cols := make([]string, 0, len(b.Rows[0]))
	for col := range b.Rows[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// inferColumnTypes votes on int, float, or string per column across sample
// records. A non-string type wins when at least half the sampled values
// parse as it.
func inferColumnTypes(columns []string, sample [][]string) map[string]string {
	types := make(map[string]string, len(columns))
	for i, col := range columns {
		intVotes, floatVotes, seen := 0, 0, 0
		for _, record := range sample {
			if i >= len(record) || record[i] == "" {
				continue
			}
			seen++
			if _, err := strconv.ParseInt(record[i], 10, 64); err == nil {
				intVotes++
				floatVotes++
				continue
			}
			if _, err := strconv.ParseFloat(record[i], 64); err == nil {
				floatVotes++
			}
		}

		switch {
		case seen > 0 && intVotes*2 >= seen && intVotes == floatVotes:
			types[col] = "int"
		case seen > 0 && floatVotes*2 >= seen:
			types[col] = "float"
		default:
			types[col] = "string"
		}
	}
	return types
}

// convertField converts a raw CSV field to its inferred type. Empty fields
// become nil.
func convertField(value, typ string) interface{} {
	if value == "" {
		return nil
	}
	switch typ {
	case "int":
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	case "float":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

// formatField renders a row value as a CSV field. Nil becomes the empty
// string.
func formatField(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// cursorAfter reports whether a row's cursor value is strictly past the
// saved cursor. Values that compare as numbers do so; everything else falls
// back to string comparison.
func cursorAfter(rowValue, cursor interface{}) bool {
	if rowValue == nil {
		return true
	}
	rf, rok := toNumber(rowValue)
	cf, cok := toNumber(cursor)
	if rok && cok {
		return rf > cf
	}
	return fmt.Sprint(rowValue) > fmt.Sprint(cursor)
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
