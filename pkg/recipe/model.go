package recipe

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Recipe is a fully resolved, validated configuration for one data-movement
// pipeline. It is produced only by the resolver: inheritance keys, delete
// directives, and template expressions never reach this type.
type Recipe struct {
	// Name is the recipe name.
	Name string `yaml:"name" validate:"required"`

	// Source configures where data is read from.
	Source SourceConfig `yaml:"source"`

	// Transform configures the ordered transform steps applied per batch.
	Transform TransformConfig `yaml:"transform"`

	// Destination configures where data is written to.
	Destination DestinationConfig `yaml:"destination"`

	// Runtime configures execution behavior.
	Runtime RuntimeConfig `yaml:"runtime"`

	// Schema optionally declares the expected output schema.
	Schema *SchemaConfig `yaml:"schema,omitempty"`
}

// IncrementalConfig configures the incremental loading strategy.
type IncrementalConfig struct {
	// Strategy is the incremental strategy type. Only "cursor" is supported.
	Strategy string `yaml:"strategy" validate:"required,oneof=cursor"`

	// CursorColumn is the column used as cursor for incremental loads.
	CursorColumn string `yaml:"cursor_column" validate:"required"`
}

// SourceConfig configures a data source connector.
type SourceConfig struct {
	// Type is the source connector type (e.g. "sqlite", "csv", "filestore", "api").
	Type string `yaml:"type" validate:"required"`

	// Database connector fields.
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Schema   string `yaml:"db_schema,omitempty"`
	Table    string `yaml:"table,omitempty"`

	// Filestore connector fields.
	Backend  string `yaml:"backend,omitempty" validate:"omitempty,oneof=local sftp"`
	Filepath string `yaml:"filepath,omitempty"`
	Format   string `yaml:"format,omitempty" validate:"omitempty,oneof=csv jsonl"`

	// SFTP backend fields.
	SFTPHost     string `yaml:"sftp_host,omitempty"`
	SFTPPort     int    `yaml:"sftp_port,omitempty"`
	SFTPUser     string `yaml:"sftp_user,omitempty"`
	SFTPPassword string `yaml:"sftp_password,omitempty"`

	// API connector fields.
	BaseURL        string            `yaml:"base_url,omitempty"`
	Endpoint       string            `yaml:"endpoint,omitempty"`
	Params         map[string]string `yaml:"params,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	AuthType       string            `yaml:"auth_type,omitempty" validate:"omitempty,oneof=none bearer basic"`
	AuthToken      string            `yaml:"auth_token,omitempty"`
	AuthUsername   string            `yaml:"auth_username,omitempty"`
	AuthPassword   string            `yaml:"auth_password,omitempty"`
	PaginationType string            `yaml:"pagination_type,omitempty" validate:"omitempty,oneof=page offset"`
	PageParam      string            `yaml:"page_param,omitempty"`
	LimitParam     string            `yaml:"limit_param,omitempty"`
	PageSize       int               `yaml:"page_size,omitempty" validate:"omitempty,gt=0"`
	DataPath       string            `yaml:"data_path,omitempty"`
	Timeout        int               `yaml:"timeout,omitempty" validate:"omitempty,gt=0"`
	MaxRetries     int               `yaml:"max_retries,omitempty" validate:"omitempty,gte=0"`
	RetryDelay     float64           `yaml:"retry_delay,omitempty" validate:"omitempty,gt=0"`
	BackoffRate    float64           `yaml:"backoff_rate,omitempty" validate:"omitempty,gte=1"`

	// Incremental configures incremental loading; nil means full loads.
	Incremental *IncrementalConfig `yaml:"incremental,omitempty"`
}

// DestinationConfig configures a data destination connector.
type DestinationConfig struct {
	// Type is the destination connector type (e.g. "sqlite", "csv", "filestore").
	Type string `yaml:"type" validate:"required"`

	// Database connector fields.
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Schema   string `yaml:"db_schema,omitempty"`
	Table    string `yaml:"table,omitempty"`

	// Filestore connector fields.
	Backend  string `yaml:"backend,omitempty" validate:"omitempty,oneof=local sftp"`
	Filepath string `yaml:"filepath,omitempty"`
	Format   string `yaml:"format,omitempty" validate:"omitempty,oneof=csv jsonl"`

	// SFTP backend fields.
	SFTPHost     string `yaml:"sftp_host,omitempty"`
	SFTPPort     int    `yaml:"sftp_port,omitempty"`
	SFTPUser     string `yaml:"sftp_user,omitempty"`
	SFTPPassword string `yaml:"sftp_password,omitempty"`

	// WriteMode selects how batches land: append, overwrite, or merge.
	WriteMode string `yaml:"write_mode,omitempty" validate:"omitempty,oneof=append overwrite merge"`

	// MergeKeys lists key columns for merge mode.
	MergeKeys []string `yaml:"merge_keys,omitempty"`
}

// TransformStep is one configured unit of transformation. Fields beyond the
// transform type are step-specific and kept as raw options.
type TransformStep struct {
	// Type is the transform type (e.g. "rename_columns", "cast", "add_column").
	Type string `validate:"required"`

	// Options holds the step-specific configuration.
	Options map[string]any
}

// UnmarshalYAML decodes a step mapping, splitting the type discriminator
// from the step-specific options.
func (s *TransformStep) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if t, ok := raw["type"].(string); ok {
		s.Type = t
	}
	delete(raw, "type")
	s.Options = raw
	return nil
}

// MarshalYAML re-joins the type discriminator with the options.
func (s TransformStep) MarshalYAML() (any, error) {
	out := make(map[string]any, len(s.Options)+1)
	for k, v := range s.Options {
		out[k] = v
	}
	out["type"] = s.Type
	return out, nil
}

// TransformConfig configures the transform pipeline.
type TransformConfig struct {
	// Steps is the ordered list of transform steps applied to each batch.
	Steps []TransformStep `yaml:"steps,omitempty" validate:"dive"`
}

// StateConfig configures the incremental-state backend.
type StateConfig struct {
	// Backend selects the state backend: file, sqlite, or redis.
	Backend string `yaml:"backend,omitempty" validate:"omitempty,oneof=file sqlite redis"`

	// Path is the state directory (file backend) or database path (sqlite).
	Path string `yaml:"path,omitempty"`

	// Addr is the redis address for the redis backend.
	Addr string `yaml:"addr,omitempty"`

	// DB is the redis database number.
	DB int `yaml:"db,omitempty" validate:"omitempty,gte=0"`
}

// RuntimeConfig configures execution behavior.
type RuntimeConfig struct {
	// BatchSize is the number of rows per batch.
	BatchSize int `yaml:"batch_size,omitempty" validate:"gt=0"`

	// MaxRetries is the number of per-batch retry attempts for transient
	// failures.
	MaxRetries int `yaml:"max_retries,omitempty" validate:"gte=0"`

	// Parallelism is the number of batches processed concurrently.
	Parallelism int `yaml:"parallelism,omitempty" validate:"gt=0"`

	// State configures the incremental-state backend.
	State StateConfig `yaml:"state,omitempty"`

	// CustomTransforms lists WASM modules providing additional transform
	// types, resolved relative to the recipe file.
	CustomTransforms []string `yaml:"custom_transforms,omitempty"`
}

// Schema handling modes.
const (
	SchemaModeInfer    = "infer"
	SchemaModeDeclared = "declared"
)

// ColumnConfig declares one column of an expected schema.
type ColumnConfig struct {
	Name       string `yaml:"name" validate:"required"`
	Type       string `yaml:"type" validate:"required,oneof=str int float bool datetime"`
	Nullable   bool   `yaml:"nullable,omitempty"`
	PrimaryKey bool   `yaml:"primary_key,omitempty"`
}

// SchemaConfig optionally declares the expected output schema.
type SchemaConfig struct {
	// Mode selects schema handling: infer from data or enforce declared
	// columns.
	Mode string `yaml:"mode,omitempty" validate:"omitempty,oneof=infer declared"`

	// Columns lists declared columns for enforce mode.
	Columns []ColumnConfig `yaml:"columns,omitempty" validate:"dive"`
}

var validate = validator.New()

// DecodeRecipe maps a resolved raw document onto the typed Recipe and runs
// invariant checks. Failures are validation-failure errors.
func DecodeRecipe(doc Document) (*Recipe, error) {
	data, err := yaml.Marshal(doc.ToTree())
	if err != nil {
		return nil, NewValidationFailureError("cannot encode resolved document", err)
	}

	var rcp Recipe
	if err := yaml.Unmarshal(data, &rcp); err != nil {
		return nil, NewValidationFailureError("resolved document does not match recipe shape", err)
	}

	rcp.applyDefaults()
	if err := rcp.Validate(); err != nil {
		return nil, err
	}
	return &rcp, nil
}

// applyDefaults fills zero-valued runtime and destination settings.
func (r *Recipe) applyDefaults() {
	if r.Runtime.BatchSize == 0 {
		r.Runtime.BatchSize = 10000
	}
	if r.Runtime.Parallelism == 0 {
		r.Runtime.Parallelism = 1
	}
	if r.Runtime.State.Backend == "" {
		r.Runtime.State.Backend = "file"
	}
	if r.Destination.WriteMode == "" {
		r.Destination.WriteMode = "append"
	}
	if r.Schema != nil && r.Schema.Mode == "" {
		r.Schema.Mode = SchemaModeInfer
	}
}

// Validate checks struct tags plus connector-conditional requirements.
func (r *Recipe) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewValidationFailureError("recipe validation failed", err)
	}

	if err := r.Source.validateByType(); err != nil {
		return err
	}
	if err := r.Destination.validateByType(); err != nil {
		return err
	}

	if r.Schema != nil && r.Schema.Mode == SchemaModeDeclared && len(r.Schema.Columns) == 0 {
		return NewValidationFailureError("schema mode 'declared' requires columns", nil)
	}
	return nil
}

func (s *SourceConfig) validateByType() error {
	missing := func(fields ...string) error {
		return NewValidationFailureError(
			fmt.Sprintf("source type %q requires fields: %s", s.Type, strings.Join(fields, ", ")), nil)
	}

	switch s.Type {
	case "sqlite":
		if s.Database == "" || s.Table == "" {
			return missing("database", "table")
		}
	case "csv":
		if s.Filepath == "" {
			return missing("filepath")
		}
	case "filestore":
		if s.Filepath == "" || s.Format == "" {
			return missing("filepath", "format")
		}
		if s.Backend == "sftp" && s.SFTPHost == "" {
			return missing("sftp_host")
		}
	case "api":
		if s.BaseURL == "" || s.Endpoint == "" {
			return missing("base_url", "endpoint")
		}
	}
	return nil
}

func (d *DestinationConfig) validateByType() error {
	missing := func(fields ...string) error {
		return NewValidationFailureError(
			fmt.Sprintf("destination type %q requires fields: %s", d.Type, strings.Join(fields, ", ")), nil)
	}

	switch d.Type {
	case "sqlite":
		if d.Database == "" || d.Table == "" {
			return missing("database", "table")
		}
	case "csv":
		if d.Filepath == "" {
			return missing("filepath")
		}
	case "filestore":
		if d.Filepath == "" || d.Format == "" {
			return missing("filepath", "format")
		}
		if d.Backend == "sftp" && d.SFTPHost == "" {
			return missing("sftp_host")
		}
	}

	if d.WriteMode == "merge" && len(d.MergeKeys) == 0 {
		return NewValidationFailureError("merge_keys is required when write_mode is 'merge'", nil)
	}
	return nil
}
