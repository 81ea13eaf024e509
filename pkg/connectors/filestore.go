package connectors

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
)

// FilestoreSource reads rows from a file on a local or SFTP backend. The
// format is csv or jsonl; files ending in .gz or .zst are decompressed
// transparently. For incremental loads, rows at or below the saved cursor
// are filtered out after decoding.
type FilestoreSource struct {
	cfg         recipe.SourceConfig
	incremental *recipe.IncrementalConfig

	backend fileBackend
	file    io.ReadCloser
	decomp  io.ReadCloser
	rows    rowReader
	cursor  interface{}
}

func newFilestoreSource(cfg recipe.SourceConfig) (engine.Source, error) {
	if cfg.Filepath == "" {
		return nil, fmt.Errorf("filestore source requires 'filepath'")
	}
	if err := validateFilestoreFormat(cfg.Format, cfg.Filepath); err != nil {
		return nil, err
	}
	return &FilestoreSource{cfg: cfg, incremental: cfg.Incremental}, nil
}

func (s *FilestoreSource) Open(_ context.Context, st *state.State) error {
	backend, err := openBackend(s.cfg.Backend, sftpParams{
		host:     s.cfg.SFTPHost,
		port:     s.cfg.SFTPPort,
		user:     s.cfg.SFTPUser,
		password: s.cfg.SFTPPassword,
	})
	if err != nil {
		return engine.NewTransientError("failed to connect to file backend", err).
			WithConnector("filestore").WithOperation("open")
	}

	file, err := backend.Open(s.cfg.Filepath)
	if err != nil {
		backend.Close()
		return engine.NewPermanentError("failed to open file", err).
			WithConnector("filestore").WithOperation("open")
	}

	reader, decomp, err := wrapDecompressor(file, s.cfg.Filepath)
	if err != nil {
		file.Close()
		backend.Close()
		return engine.NewPermanentError("failed to open compressed file", err).
			WithConnector("filestore").WithOperation("open")
	}

	rows, err := newRowReader(reader, filestoreFormat(s.cfg.Format, s.cfg.Filepath))
	if err != nil {
		if decomp != nil {
			decomp.Close()
		}
		file.Close()
		backend.Close()
		return engine.NewPermanentError("failed to read file", err).
			WithConnector("filestore").WithOperation("open")
	}

	s.backend = backend
	s.file = file
	s.decomp = decomp
	s.rows = rows

	if s.incremental != nil && st != nil {
		if v, ok := st.CursorValue(s.incremental.CursorColumn); ok {
			s.cursor = v
		}
	}
	return nil
}

func (s *FilestoreSource) ReadBatch(_ context.Context, size int) (*engine.Batch, error) {
	if s.rows == nil {
		return nil, fmt.Errorf("filestore source not opened")
	}

	batch := &engine.Batch{Rows: make([]engine.Row, 0, size)}
	for len(batch.Rows) < size {
		row, err := s.rows.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, engine.NewPermanentError("failed to decode row", err).
				WithConnector("filestore").WithOperation("read")
		}
		if s.cursor != nil && !cursorAfter(row[s.incremental.CursorColumn], s.cursor) {
			continue
		}
		batch.Rows = append(batch.Rows, row)
	}

	if len(batch.Rows) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (s *FilestoreSource) Close() error {
	var err error
	if s.decomp != nil {
		err = s.decomp.Close()
		s.decomp = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	if s.backend != nil {
		if cerr := s.backend.Close(); err == nil {
			err = cerr
		}
		s.backend = nil
	}
	s.rows = nil
	return err
}

// FilestoreDestination writes rows to a file on a local or SFTP backend.
// Files ending in .gz or .zst are compressed; compressed files only support
// overwrite mode since compression streams cannot be appended to.
type FilestoreDestination struct {
	cfg       recipe.DestinationConfig
	writeMode string

	backend fileBackend
	file    io.WriteCloser
	comp    io.WriteCloser
	rows    rowWriter
}

func newFilestoreDestination(cfg recipe.DestinationConfig) (engine.Destination, error) {
	if cfg.Filepath == "" {
		return nil, fmt.Errorf("filestore destination requires 'filepath'")
	}
	if err := validateFilestoreFormat(cfg.Format, cfg.Filepath); err != nil {
		return nil, err
	}
	mode := cfg.WriteMode
	if mode == "" {
		mode = "overwrite"
	}
	if mode == "merge" {
		return nil, fmt.Errorf("filestore destination does not support merge write mode")
	}
	if mode == "append" && compressionOf(cfg.Filepath) != "" {
		return nil, fmt.Errorf("filestore destination cannot append to compressed files")
	}
	return &FilestoreDestination{cfg: cfg, writeMode: mode}, nil
}

func (d *FilestoreDestination) Open(_ context.Context) error {
	backend, err := openBackend(d.cfg.Backend, sftpParams{
		host:     d.cfg.SFTPHost,
		port:     d.cfg.SFTPPort,
		user:     d.cfg.SFTPUser,
		password: d.cfg.SFTPPassword,
	})
	if err != nil {
		return engine.NewTransientError("failed to connect to file backend", err).
			WithConnector("filestore").WithOperation("open")
	}

	file, err := backend.Create(d.cfg.Filepath, d.writeMode == "append")
	if err != nil {
		backend.Close()
		return engine.NewPermanentError("failed to create file", err).
			WithConnector("filestore").WithOperation("open")
	}

	writer, comp, err := wrapCompressor(file, d.cfg.Filepath)
	if err != nil {
		file.Close()
		backend.Close()
		return engine.NewPermanentError("failed to create compressed file", err).
			WithConnector("filestore").WithOperation("open")
	}

	d.backend = backend
	d.file = file
	d.comp = comp
	d.rows = newRowWriter(writer, filestoreFormat(d.cfg.Format, d.cfg.Filepath))
	return nil
}

func (d *FilestoreDestination) WriteBatch(_ context.Context, b *engine.Batch) error {
	if d.rows == nil {
		return fmt.Errorf("filestore destination not opened")
	}
	for _, row := range b.Rows {
		if err := d.rows.write(row); err != nil {
			return engine.NewTransientError("failed to write row", err).
				WithConnector("filestore").WithOperation("write")
		}
	}
	return nil
}

func (d *FilestoreDestination) Commit(_ context.Context) error {
	if d.rows == nil {
		return nil
	}
	if err := d.rows.flush(); err != nil {
		return engine.NewTransientError("failed to flush rows", err).
			WithConnector("filestore").WithOperation("write")
	}
	return nil
}

func (d *FilestoreDestination) Close() error {
	var err error
	if d.rows != nil {
		err = d.rows.flush()
		d.rows = nil
	}
	if d.comp != nil {
		if cerr := d.comp.Close(); err == nil {
			err = cerr
		}
		d.comp = nil
	}
	if d.file != nil {
		if cerr := d.file.Close(); err == nil {
			err = cerr
		}
		d.file = nil
	}
	if d.backend != nil {
		if cerr := d.backend.Close(); err == nil {
			err = cerr
		}
		d.backend = nil
	}
	return err
}

// filestoreFormat resolves the data format, defaulting from the file
// extension with compression suffixes stripped.
func filestoreFormat(format, path string) string {
	if format != "" {
		return format
	}
	base := strings.TrimSuffix(strings.TrimSuffix(path, ".gz"), ".zst")
	if strings.HasSuffix(base, ".jsonl") {
		return "jsonl"
	}
	return "csv"
}

func validateFilestoreFormat(format, path string) error {
	switch filestoreFormat(format, path) {
	case "csv", "jsonl":
		return nil
	default:
		return fmt.Errorf("filestore format must be csv or jsonl")
	}
}

// compressionOf returns the compression codec implied by the file extension.
func compressionOf(path string) string {
	switch filepath.Ext(path) {
	case ".gz":
		return "gzip"
	case ".zst":
		return "zstd"
	default:
		return ""
	}
}

// wrapDecompressor wraps a reader with the codec implied by the extension.
// The second return value, when non-nil, must be closed before the
// underlying reader.
func wrapDecompressor(r io.Reader, path string) (io.Reader, io.ReadCloser, error) {
	switch compressionOf(path) {
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, gz, nil
	case "zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		rc := dec.IOReadCloser()
		return rc, rc, nil
	default:
		return r, nil, nil
	}
}

// wrapCompressor wraps a writer with the codec implied by the extension.
func wrapCompressor(w io.Writer, path string) (io.Writer, io.WriteCloser, error) {
	switch compressionOf(path) {
	case "gzip":
		gz := gzip.NewWriter(w)
		return gz, gz, nil
	case "zstd":
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return enc, enc, nil
	default:
		return w, nil, nil
	}
}

// rowReader decodes rows one at a time, returning io.EOF when exhausted.
type rowReader interface {
	next() (engine.Row, error)
}

func newRowReader(r io.Reader, format string) (rowReader, error) {
	switch format {
	case "jsonl":
		return &jsonlRowReader{scanner: newLineScanner(r)}, nil
	default:
		return newCSVRowReader(r)
	}
}

type csvRowReader struct {
	reader  *csv.Reader
	columns []string
	types   map[string]string
	pending [][]string
}

func newCSVRowReader(r io.Reader) (*csvRowReader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("file is empty")
		}
		return nil, err
	}

	// Buffer a sample up front so types are inferred before the first row
	// is returned.
	cr := &csvRowReader{reader: reader, columns: header}
	for len(cr.pending) < 100 {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		cr.pending = append(cr.pending, record)
	}
	cr.types = inferColumnTypes(header, cr.pending)
	return cr, nil
}

func (cr *csvRowReader) next() (engine.Row, error) {
	var record []string
	if len(cr.pending) > 0 {
		record = cr.pending[0]
		cr.pending = cr.pending[1:]
	} else {
		var err error
		record, err = cr.reader.Read()
		if err != nil {
			return nil, err
		}
	}

	row := make(engine.Row, len(cr.columns))
	for i, col := range cr.columns {
		if i < len(record) {
			row[col] = convertField(record[i], cr.types[col])
		} else {
			row[col] = nil
		}
	}
	return row, nil
}

type jsonlRowReader struct {
	scanner *bufio.Scanner
	line    int
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return scanner
}

func (jr *jsonlRowReader) next() (engine.Row, error) {
	for jr.scanner.Scan() {
		jr.line++
		text := strings.TrimSpace(jr.scanner.Text())
		if text == "" {
			continue
		}
		var row engine.Row
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", jr.line, err)
		}
		return row, nil
	}
	if err := jr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// rowWriter encodes rows one at a time.
type rowWriter interface {
	write(row engine.Row) error
	flush() error
}

func newRowWriter(w io.Writer, format string) rowWriter {
	switch format {
	case "jsonl":
		bw := bufio.NewWriter(w)
		return &jsonlRowWriter{buf: bw, enc: json.NewEncoder(bw)}
	default:
		return &csvRowWriter{writer: csv.NewWriter(w)}
	}
}

type csvRowWriter struct {
	writer  *csv.Writer
	columns []string
	wrote   bool
}

func (cw *csvRowWriter) write(row engine.Row) error {
	if !cw.wrote {
		cw.columns = columnsOf(&engine.Batch{Rows: []engine.Row{row}})
		if err := cw.writer.Write(cw.columns); err != nil {
			return err
		}
		cw.wrote = true
	}

	record := make([]string, len(cw.columns))
	for i, col := range cw.columns {
		record[i] = formatField(row[col])
	}
	return cw.writer.Write(record)
}

func (cw *csvRowWriter) flush() error {
	cw.writer.Flush()
	return cw.writer.Error()
}

type jsonlRowWriter struct {
	buf *bufio.Writer
	enc *json.Encoder
}

func (jw *jsonlRowWriter) write(row engine.Row) error {
	return jw.enc.Encode(row)
}

func (jw *jsonlRowWriter) flush() error {
	return jw.buf.Flush()
}
