package transforms

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"

	"github.com/ladleworks/ladle/pkg/engine"
)

// starlarkTimeout bounds the evaluation of one batch.
const starlarkTimeout = 30 * time.Second

// compute evaluates a Starlark expression per row and stores the result in a
// column. The expression sees the current row as the variable `row`:
//
//	- type: compute
//	  name: full_name
//	  expression: row["first"] + " " + row["last"]
type compute struct {
	column string
	expr   string
}

func newCompute(options map[string]any) (engine.Transform, error) {
	name, ok := options["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("compute requires a string 'name' option")
	}
	expr, ok := options["expression"].(string)
	if !ok || expr == "" {
		return nil, fmt.Errorf("compute requires a string 'expression' option")
	}
	return &compute{column: name, expr: expr}, nil
}

func (t *compute) Name() string { return "compute" }

func (t *compute) Apply(ctx context.Context, b *engine.Batch) (*engine.Batch, error) {
	return evalBatch(ctx, b, func(thread *starlark.Thread, row engine.Row) (engine.Row, error) {
		result, err := evalRowExpr(thread, t.expr, row)
		if err != nil {
			return nil, err
		}
		value, err := fromStarlarkValue(result)
		if err != nil {
			return nil, err
		}
		next := row.Copy()
		next[t.column] = value
		return next, nil
	})
}

// filter keeps rows for which a Starlark expression is truthy:
//
//	- type: filter
//	  expression: row["status"] == "active"
type filter struct {
	expr string
}

func newFilter(options map[string]any) (engine.Transform, error) {
	expr, ok := options["expression"].(string)
	if !ok || expr == "" {
		return nil, fmt.Errorf("filter requires a string 'expression' option")
	}
	return &filter{expr: expr}, nil
}

func (t *filter) Name() string { return "filter" }

func (t *filter) Apply(ctx context.Context, b *engine.Batch) (*engine.Batch, error) {
	return evalBatch(ctx, b, func(thread *starlark.Thread, row engine.Row) (engine.Row, error) {
		result, err := evalRowExpr(thread, t.expr, row)
		if err != nil {
			return nil, err
		}
		if bool(result.Truth()) {
			return row, nil
		}
		return nil, nil // drop the row
	})
}

// evalBatch runs fn over every row in a goroutine so a runaway expression
// cannot hang the pipeline past the timeout.
func evalBatch(ctx context.Context, b *engine.Batch, fn func(*starlark.Thread, engine.Row) (engine.Row, error)) (*engine.Batch, error) {
	evalCtx, cancel := context.WithTimeout(ctx, starlarkTimeout)
	defer cancel()

	type evalResult struct {
		batch *engine.Batch
		err   error
	}
	resultCh := make(chan evalResult, 1)

	thread := &starlark.Thread{
		Name:  "ladle",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	go func() {
		out := &engine.Batch{Seq: b.Seq, Rows: make([]engine.Row, 0, b.Len())}
		for i, row := range b.Rows {
			next, err := fn(thread, row)
			if err != nil {
				resultCh <- evalResult{err: fmt.Errorf("row %d: %w", i, err)}
				return
			}
			if next != nil {
				out.Rows = append(out.Rows, next)
			}
		}
		resultCh <- evalResult{batch: out}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return nil, fmt.Errorf("expression evaluation timed out after %v", starlarkTimeout)
	case res := <-resultCh:
		return res.batch, res.err
	}
}

// evalRowExpr evaluates an expression with the row bound as `row`.
func evalRowExpr(thread *starlark.Thread, expr string, row engine.Row) (starlark.Value, error) {
	rowValue, err := toStarlarkValue(map[string]interface{}(row))
	if err != nil {
		return nil, fmt.Errorf("failed to convert row: %w", err)
	}

	env := starlark.StringDict{"row": rowValue}
	result, err := starlark.Eval(thread, "expr.star", expr, env)
	if err != nil {
		return nil, fmt.Errorf("expression failed: %w", err)
	}
	return result, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339)), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
