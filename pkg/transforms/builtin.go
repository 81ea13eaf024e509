package transforms

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ladleworks/ladle/pkg/engine"
)

// addColumn adds a constant-valued column to every row.
type addColumn struct {
	column string
	value  any
}

func newAddColumn(options map[string]any) (engine.Transform, error) {
	name, ok := options["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("add_column requires a string 'name' option")
	}
	value, ok := options["value"]
	if !ok {
		return nil, fmt.Errorf("add_column requires a 'value' option")
	}
	return &addColumn{column: name, value: value}, nil
}

func (t *addColumn) Name() string { return "add_column" }

func (t *addColumn) Apply(_ context.Context, b *engine.Batch) (*engine.Batch, error) {
	out := &engine.Batch{Seq: b.Seq, Rows: make([]engine.Row, 0, b.Len())}
	for _, row := range b.Rows {
		if _, exists := row[t.column]; exists {
			return nil, fmt.Errorf("column %q already exists", t.column)
		}
		next := row.Copy()
		next[t.column] = t.value
		out.Rows = append(out.Rows, next)
	}
	return out, nil
}

// renameColumns renames columns according to an old-to-new mapping.
type renameColumns struct {
	mapping map[string]string
}

func newRenameColumns(options map[string]any) (engine.Transform, error) {
	raw, ok := options["mapping"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("rename_columns requires a 'mapping' option")
	}

	mapping := make(map[string]string, len(raw))
	for oldName, v := range raw {
		newName, ok := v.(string)
		if !ok || newName == "" {
			return nil, fmt.Errorf("rename_columns mapping for %q must be a non-empty string", oldName)
		}
		mapping[oldName] = newName
	}
	return &renameColumns{mapping: mapping}, nil
}

func (t *renameColumns) Name() string { return "rename_columns" }

func (t *renameColumns) Apply(_ context.Context, b *engine.Batch) (*engine.Batch, error) {
	out := &engine.Batch{Seq: b.Seq, Rows: make([]engine.Row, 0, b.Len())}
	for _, row := range b.Rows {
		next := make(engine.Row, len(row))
		for k, v := range row {
			if newName, ok := t.mapping[k]; ok {
				k = newName
			}
			next[k] = v
		}
		out.Rows = append(out.Rows, next)
	}
	return out, nil
}

// castColumns converts column values to a target type.
type castColumns struct {
	columns map[string]string
}

var castTypes = map[string]bool{
	"str": true, "int": true, "float": true, "datetime": true,
}

func newCast(options map[string]any) (engine.Transform, error) {
	raw, ok := options["columns"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("cast requires a 'columns' option")
	}

	columns := make(map[string]string, len(raw))
	for col, v := range raw {
		typ, ok := v.(string)
		if !ok || !castTypes[typ] {
			return nil, fmt.Errorf("cast type for column %q must be one of str, int, float, datetime", col)
		}
		columns[col] = typ
	}
	return &castColumns{columns: columns}, nil
}

func (t *castColumns) Name() string { return "cast" }

func (t *castColumns) Apply(_ context.Context, b *engine.Batch) (*engine.Batch, error) {
	out := &engine.Batch{Seq: b.Seq, Rows: make([]engine.Row, 0, b.Len())}
	for i, row := range b.Rows {
		next := row.Copy()
		for col, typ := range t.columns {
			v, exists := next[col]
			if !exists {
				return nil, fmt.Errorf("cast column %q missing in row %d", col, i)
			}
			if v == nil {
				continue // nulls pass through unchanged
			}
			converted, err := castValue(v, typ)
			if err != nil {
				return nil, fmt.Errorf("cast column %q in row %d: %w", col, i, err)
			}
			next[col] = converted
		}
		out.Rows = append(out.Rows, next)
	}
	return out, nil
}

func castValue(v any, typ string) (any, error) {
	switch typ {
	case "str":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil

	case "int":
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int", n)
			}
			return i, nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		default:
			return nil, fmt.Errorf("cannot convert %T to int", v)
		}

	case "float":
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to float", n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to float", v)
		}

	case "datetime":
		switch n := v.(type) {
		case time.Time:
			return n, nil
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if ts, err := time.Parse(layout, n); err == nil {
					return ts, nil
				}
			}
			return nil, fmt.Errorf("cannot parse %q as datetime", n)
		default:
			return nil, fmt.Errorf("cannot convert %T to datetime", v)
		}

	default:
		return nil, fmt.Errorf("unsupported cast type: %s", typ)
	}
}
