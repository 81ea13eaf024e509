package transforms

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/recipe"
)

func batchOf(rows ...engine.Row) *engine.Batch {
	return &engine.Batch{Seq: 1, Rows: rows}
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()

	steps := []recipe.TransformStep{
		{Type: "add_column", Options: map[string]any{"name": "source", "value": "orders"}},
		{Type: "rename_columns", Options: map[string]any{"mapping": map[string]any{"id": "order_id"}}},
		{Type: "filter", Options: map[string]any{"expression": `row["order_id"] > 0`}},
	}

	chain, err := reg.Build(steps)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("Build() returned %d transforms, want 3", len(chain))
	}
	if chain[0].Name() != "add_column" || chain[2].Name() != "filter" {
		t.Errorf("chain order wrong: %s, %s", chain[0].Name(), chain[2].Name())
	}
}

func TestRegistryBuildUnknownType(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build([]recipe.TransformStep{{Type: "explode"}})
	if err == nil {
		t.Fatal("expected error for unknown transform type")
	}
	if !strings.Contains(err.Error(), "explode") {
		t.Errorf("error should name the unknown type, got %v", err)
	}
}

func TestRegistryBuildInvalidOptions(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build([]recipe.TransformStep{
		{Type: "add_column", Options: map[string]any{"value": 1}},
	})
	if err == nil {
		t.Fatal("expected error for add_column without name")
	}
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()

	factory := func(options map[string]any) (engine.Transform, error) { return nil, nil }
	if err := reg.Register("custom", factory); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register("custom", factory); err == nil {
		t.Error("expected error registering duplicate type")
	}
	if err := reg.Register("add_column", factory); err == nil {
		t.Error("expected error shadowing a built-in")
	}
	if err := reg.Register("", factory); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestAddColumn(t *testing.T) {
	tr, err := newAddColumn(map[string]any{"name": "env", "value": "prod"})
	if err != nil {
		t.Fatalf("newAddColumn() error = %v", err)
	}

	in := batchOf(engine.Row{"id": 1}, engine.Row{"id": 2})
	out, err := tr.Apply(context.Background(), in)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	for _, row := range out.Rows {
		if row["env"] != "prod" {
			t.Errorf("env = %v, want prod", row["env"])
		}
	}
	if _, exists := in.Rows[0]["env"]; exists {
		t.Error("input batch was mutated")
	}
}

func TestAddColumnExisting(t *testing.T) {
	tr, _ := newAddColumn(map[string]any{"name": "id", "value": 0})

	_, err := tr.Apply(context.Background(), batchOf(engine.Row{"id": 1}))
	if err == nil {
		t.Fatal("expected error adding a column that already exists")
	}
}

func TestRenameColumns(t *testing.T) {
	tr, err := newRenameColumns(map[string]any{
		"mapping": map[string]any{"fname": "first_name", "lname": "last_name"},
	})
	if err != nil {
		t.Fatalf("newRenameColumns() error = %v", err)
	}

	out, err := tr.Apply(context.Background(), batchOf(
		engine.Row{"fname": "Ada", "lname": "Lovelace", "age": 36},
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	row := out.Rows[0]
	if row["first_name"] != "Ada" || row["last_name"] != "Lovelace" {
		t.Errorf("renamed row = %v", row)
	}
	if _, exists := row["fname"]; exists {
		t.Error("old column name still present")
	}
	if row["age"] != 36 {
		t.Errorf("unmapped column lost: %v", row)
	}
}

func TestCast(t *testing.T) {
	tests := []struct {
		name  string
		typ   string
		value any
		want  any
	}{
		{"int from string", "int", "42", int64(42)},
		{"int from float", "int", 41.9, int64(41)},
		{"int from bool", "int", true, int64(1)},
		{"float from string", "float", "3.5", 3.5},
		{"float from int", "float", 7, 7.0},
		{"str from int", "str", 99, "99"},
		{"str passthrough", "str", "x", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := castValue(tt.value, tt.typ)
			if err != nil {
				t.Fatalf("castValue(%v, %s) error = %v", tt.value, tt.typ, err)
			}
			if got != tt.want {
				t.Errorf("castValue(%v, %s) = %v (%T), want %v (%T)",
					tt.value, tt.typ, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestCastDatetime(t *testing.T) {
	got, err := castValue("2024-06-01 12:30:00", "datetime")
	if err != nil {
		t.Fatalf("castValue() error = %v", err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("castValue() = %T, want time.Time", got)
	}
	if ts.Hour() != 12 || ts.Day() != 1 {
		t.Errorf("parsed time = %v", ts)
	}

	if _, err := castValue("not a date", "datetime"); err == nil {
		t.Error("expected error for unparseable datetime")
	}
}

func TestCastApply(t *testing.T) {
	tr, err := newCast(map[string]any{
		"columns": map[string]any{"amount": "float", "count": "int"},
	})
	if err != nil {
		t.Fatalf("newCast() error = %v", err)
	}

	out, err := tr.Apply(context.Background(), batchOf(
		engine.Row{"amount": "12.50", "count": "3"},
		engine.Row{"amount": nil, "count": 1},
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Rows[0]["amount"] != 12.5 || out.Rows[0]["count"] != int64(3) {
		t.Errorf("cast row = %v", out.Rows[0])
	}
	if out.Rows[1]["amount"] != nil {
		t.Errorf("nil should pass through, got %v", out.Rows[1]["amount"])
	}
}

func TestCastMissingColumn(t *testing.T) {
	tr, _ := newCast(map[string]any{"columns": map[string]any{"ts": "datetime"}})

	_, err := tr.Apply(context.Background(), batchOf(engine.Row{"id": 1}))
	if err == nil {
		t.Fatal("expected error for missing cast column")
	}
}

func TestCastRejectsUnknownType(t *testing.T) {
	_, err := newCast(map[string]any{"columns": map[string]any{"x": "decimal"}})
	if err == nil {
		t.Fatal("expected error for unknown cast type")
	}
}

func TestCompute(t *testing.T) {
	tr, err := newCompute(map[string]any{
		"name":       "total",
		"expression": `row["price"] * row["quantity"]`,
	})
	if err != nil {
		t.Fatalf("newCompute() error = %v", err)
	}

	out, err := tr.Apply(context.Background(), batchOf(
		engine.Row{"price": 2.5, "quantity": int64(4)},
		engine.Row{"price": 1.0, "quantity": int64(3)},
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Rows[0]["total"] != 10.0 {
		t.Errorf("total = %v, want 10.0", out.Rows[0]["total"])
	}
	if out.Rows[1]["total"] != 3.0 {
		t.Errorf("total = %v, want 3.0", out.Rows[1]["total"])
	}
}

func TestComputeStringExpression(t *testing.T) {
	tr, _ := newCompute(map[string]any{
		"name":       "full_name",
		"expression": `row["first"] + " " + row["last"]`,
	})

	out, err := tr.Apply(context.Background(), batchOf(
		engine.Row{"first": "Grace", "last": "Hopper"},
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Rows[0]["full_name"] != "Grace Hopper" {
		t.Errorf("full_name = %v", out.Rows[0]["full_name"])
	}
}

func TestComputeExpressionError(t *testing.T) {
	tr, _ := newCompute(map[string]any{
		"name":       "bad",
		"expression": `row["missing"] + 1`,
	})

	_, err := tr.Apply(context.Background(), batchOf(engine.Row{"id": int64(1)}))
	if err == nil {
		t.Fatal("expected error for expression referencing a missing key")
	}
}

func TestFilter(t *testing.T) {
	tr, err := newFilter(map[string]any{
		"expression": `row["status"] == "active"`,
	})
	if err != nil {
		t.Fatalf("newFilter() error = %v", err)
	}

	out, err := tr.Apply(context.Background(), batchOf(
		engine.Row{"id": int64(1), "status": "active"},
		engine.Row{"id": int64(2), "status": "deleted"},
		engine.Row{"id": int64(3), "status": "active"},
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("filter kept %d rows, want 2", len(out.Rows))
	}
	for _, row := range out.Rows {
		if row["status"] != "active" {
			t.Errorf("kept row %v", row)
		}
	}
}

func TestFilterNumericExpression(t *testing.T) {
	tr, _ := newFilter(map[string]any{"expression": `row["amount"] >= 100`})

	out, err := tr.Apply(context.Background(), batchOf(
		engine.Row{"amount": int64(50)},
		engine.Row{"amount": int64(150)},
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(out.Rows) != 1 || out.Rows[0]["amount"] != int64(150) {
		t.Errorf("filtered rows = %v", out.Rows)
	}
}

func TestComputeRequiresOptions(t *testing.T) {
	if _, err := newCompute(map[string]any{"expression": "1"}); err == nil {
		t.Error("expected error for compute without name")
	}
	if _, err := newCompute(map[string]any{"name": "x"}); err == nil {
		t.Error("expected error for compute without expression")
	}
	if _, err := newFilter(map[string]any{}); err == nil {
		t.Error("expected error for filter without expression")
	}
}

func TestStarlarkValueRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"name":   "widget",
		"count":  int64(5),
		"price":  9.99,
		"active": true,
		"tags":   []interface{}{"a", "b"},
		"none":   nil,
	}

	sv, err := toStarlarkValue(in)
	if err != nil {
		t.Fatalf("toStarlarkValue() error = %v", err)
	}
	out, err := fromStarlarkValue(sv)
	if err != nil {
		t.Fatalf("fromStarlarkValue() error = %v", err)
	}

	m, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("round trip = %T, want map", out)
	}
	if m["name"] != "widget" || m["count"] != int64(5) || m["price"] != 9.99 || m["active"] != true {
		t.Errorf("round trip = %v", m)
	}
	tags, ok := m["tags"].([]interface{})
	if !ok || len(tags) != 2 {
		t.Errorf("tags = %v", m["tags"])
	}
}

func TestLoadWASMTransformMissingFile(t *testing.T) {
	_, err := LoadWASMTransform(context.Background(), "testdata/does-not-exist.wasm")
	if err == nil {
		t.Fatal("expected error for missing module file")
	}
}
