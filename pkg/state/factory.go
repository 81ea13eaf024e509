package state

import (
	"fmt"
	"path/filepath"

	"github.com/ladleworks/ladle/pkg/recipe"
)

// DefaultDir is the default state directory for the file backend.
const DefaultDir = ".ladle/state"

// Open creates the state store selected by a recipe's runtime configuration.
// The returned store still needs Init before use.
func Open(cfg recipe.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		dir := cfg.Path
		if dir == "" {
			dir = DefaultDir
		}
		return NewFileStore(dir)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(DefaultDir, "ladle.db")
		}
		return NewSQLiteStore(path)
	case "redis":
		return NewRedisStore(cfg.Addr, cfg.DB)
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", cfg.Backend)
	}
}
