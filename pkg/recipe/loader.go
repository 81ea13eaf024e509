package recipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader loads raw recipe documents by logical identifier.
type Loader interface {
	// Load returns the raw document for an identifier. It fails with a
	// not-found error when the document does not exist and a parse-failure
	// error when its syntax is invalid.
	Load(ctx context.Context, id string) (Document, error)

	// ResolveRef canonicalizes a reference found in the document identified
	// by base. Inheritance references are resolved relative to the
	// referencing document; base is empty for the entry-point reference.
	ResolveRef(base, ref string) (string, error)
}

// FileLoader loads recipe documents from YAML files. Identifiers are file
// paths; inheritance references resolve relative to the referencing file's
// directory.
type FileLoader struct{}

// NewFileLoader creates a file-based recipe loader.
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

// ResolveRef resolves ref against the directory of base and returns an
// absolute, cleaned path usable as a canonical identifier.
func (l *FileLoader) ResolveRef(base, ref string) (string, error) {
	if base != "" && !filepath.IsAbs(ref) {
		ref = filepath.Join(filepath.Dir(base), ref)
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", NewNotFoundError(fmt.Sprintf("cannot resolve recipe path %q", ref), err)
	}
	return abs, nil
}

// Load reads and parses the YAML document at id.
func (l *FileLoader) Load(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(id)
	if err != nil {
		return nil, NewNotFoundError("recipe file not found", err).WithDocument(id)
	}

	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, NewParseFailureError("invalid YAML in recipe file", err).WithDocument(id)
	}
	if tree == nil {
		return nil, NewParseFailureError("recipe file is empty", nil).WithDocument(id)
	}

	doc, err := DocumentFromTree(tree)
	if err != nil {
		var re *RecipeError
		if errors.As(err, &re) {
			return nil, re.WithDocument(id)
		}
		return nil, err
	}
	return doc, nil
}
