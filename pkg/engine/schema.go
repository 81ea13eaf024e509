package engine

import (
	"fmt"
	"time"

	"github.com/ladleworks/ladle/pkg/recipe"
)

// validateSchema checks a transformed batch against the recipe's declared
// columns. Recipes without a schema block, and infer mode, accept any row
// shape. Violations are permanent: retrying the same rows cannot fix them.
func validateSchema(cfg *recipe.SchemaConfig, b *Batch) error {
	if cfg == nil || cfg.Mode != recipe.SchemaModeDeclared || b.Len() == 0 {
		return nil
	}

	declared := make(map[string]bool, len(cfg.Columns))
	for _, col := range cfg.Columns {
		declared[col.Name] = true
	}

	for i, row := range b.Rows {
		for name := range row {
			if !declared[name] {
				return NewPermanentError(
					fmt.Sprintf("row %d has undeclared column %q", i, name), nil).
					WithOperation("schema")
			}
		}
		for _, col := range cfg.Columns {
			value, ok := row[col.Name]
			if !ok || value == nil {
				if col.Nullable {
					continue
				}
				return NewPermanentError(
					fmt.Sprintf("row %d is missing declared column %q", i, col.Name), nil).
					WithOperation("schema")
			}
			if !columnTypeMatches(col.Type, value) {
				return NewPermanentError(
					fmt.Sprintf("row %d column %q: declared %s, got %T", i, col.Name, col.Type, value), nil).
					WithOperation("schema")
			}
		}
	}
	return nil
}

// columnTypeMatches reports whether a row value satisfies a declared column
// type. Integer values satisfy float columns; everything else is exact, so
// sources producing strings need a cast step before a declared schema.
func columnTypeMatches(declared string, v interface{}) bool {
	switch declared {
	case "str":
		_, ok := v.(string)
		return ok
	case "int":
		switch v.(type) {
		case int, int64:
			return true
		}
		return false
	case "float":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	case "datetime":
		_, ok := v.(time.Time)
		return ok
	default:
		return false
	}
}
