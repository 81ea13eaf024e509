// Package transforms provides the built-in row transforms and the registry
// that builds a transform chain from recipe steps.
//
// Built-in types:
//
//   - add_column: adds a constant-valued column to every row
//   - rename_columns: renames columns by a mapping
//   - cast: converts column values to str, int, float, or datetime
//   - compute: evaluates a Starlark expression per row into a new column
//   - filter: keeps rows for which a Starlark expression is truthy
//
// Custom transform types are WASI command modules loaded from paths listed
// in the recipe's runtime.custom_transforms. Each module receives the batch
// rows as JSON on stdin and writes the transformed rows as JSON on stdout.
//
// Usage:
//
//	reg := transforms.NewRegistry()
//	chain, err := reg.Build(rec.Transform.Steps)
package transforms
