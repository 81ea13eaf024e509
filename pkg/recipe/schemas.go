package recipe

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas used to vet resolved documents before
// typed decoding.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in recipe
// schema.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	// The built-in schema is a compile-time constant; registration cannot
	// fail.
	_ = sr.RegisterSchema("recipe", builtinRecipeSchema)
	return sr
}

// RegisterSchema compiles and registers a CUE schema under a name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateDocument validates a resolved document against the built-in
// recipe schema.
func (sr *SchemaRegistry) ValidateDocument(doc Document) error {
	return sr.ValidateAgainstSchema("recipe", "#Recipe", doc.ToTree())
}

// ValidateAgainstSchema validates data against a definition in a named
// schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName, definition string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	def := schema.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		return fmt.Errorf("definition %s not found in schema %s: %w", definition, schemaName, err)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// builtinRecipeSchema constrains the shape of a resolved recipe document.
// Connector-conditional requirements and defaults live in the typed model;
// this schema rejects structurally invalid documents early with precise
// field paths.
const builtinRecipeSchema = `
#Recipe: {
	// Recipe name, used as the state key and in logs.
	name: string & !=""

	source: {
		type: string & !=""
		...
	}

	transform?: {
		steps?: [...{
			type: string & !=""
			...
		}]
		...
	}

	destination: {
		type: string & !=""
		write_mode?: "append" | "overwrite" | "merge"
		merge_keys?: [...string]
		...
	}

	runtime?: {
		batch_size?:  int & >0
		max_retries?: int & >=0
		parallelism?: int & >0
		state?: {
			backend?: "file" | "sqlite" | "redis"
			path?:    string
			addr?:    string
			db?:      int & >=0
		}
		custom_transforms?: [...string]
	}

	schema?: {
		mode?: "infer" | "declared"
		columns?: [...{
			name:         string & !=""
			type:         string & !=""
			nullable?:    bool
			primary_key?: bool
		}]
	}
}
`
