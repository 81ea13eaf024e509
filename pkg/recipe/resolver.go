package recipe

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// resolveState tracks per-document progress within one resolution call.
type resolveState uint8

const (
	stateUnvisited resolveState = iota
	stateVisiting
	stateResolved
)

// Resolver turns a recipe identifier into one fully resolved, validated
// Recipe. It walks the single-inheritance chain deepest-ancestor-first,
// merging and applying deletes at each level, renders template expressions
// against the final merged document, and hands the result to schema
// validation.
//
// A Resolver is safe for concurrent use: all per-call state (document cache,
// visit states, inheritance chain, caller variables) lives in a resolution
// value created per Resolve call.
type Resolver struct {
	loader  Loader
	schemas *SchemaRegistry
	env     EnvLookup
	logger  zerolog.Logger
}

// resolution is the state of one resolution call. The cache ensures a parent
// referenced by several children in the same call is loaded and merged once.
type resolution struct {
	states map[string]resolveState
	cache  map[string]Document
	chain  []string
}

// NewResolver creates a resolver using the given document loader.
func NewResolver(loader Loader, logger zerolog.Logger) *Resolver {
	return &Resolver{
		loader:  loader,
		schemas: NewSchemaRegistry(),
		env:     osEnvLookup,
		logger:  logger.With().Str("component", "recipe-resolver").Logger(),
	}
}

// SetEnvLookup replaces the environment provider consulted by template
// rendering. The default reads the process environment.
func (r *Resolver) SetEnvLookup(fn EnvLookup) {
	r.env = fn
}

func osEnvLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Resolve loads, merges, renders, and validates the recipe identified by id.
// vars supplies caller variables for template rendering and may be nil.
func (r *Resolver) Resolve(ctx context.Context, id string, vars map[string]string) (*Recipe, error) {
	doc, err := r.ResolveDocument(ctx, id, vars)
	if err != nil {
		return nil, err
	}

	if err := r.schemas.ValidateDocument(doc); err != nil {
		return nil, NewValidationFailureError("recipe schema validation failed", err).WithDocument(id)
	}

	rcp, err := DecodeRecipe(doc)
	if err != nil {
		return nil, stampDocument(err, id)
	}

	r.logger.Debug().
		Str("recipe", rcp.Name).
		Str("document", id).
		Msg("recipe resolved")
	return rcp, nil
}

// ResolveDocument performs inheritance resolution and template rendering and
// returns the raw resolved document. The result is guaranteed free of
// inheritance keys, delete-directive keys, and unrendered expressions.
func (r *Resolver) ResolveDocument(ctx context.Context, id string, vars map[string]string) (Document, error) {
	canonical, err := r.loader.ResolveRef("", id)
	if err != nil {
		return nil, err
	}

	res := &resolution{
		states: make(map[string]resolveState),
		cache:  make(map[string]Document),
	}
	doc, err := r.resolve(ctx, res, canonical)
	if err != nil {
		return nil, err
	}

	pc := providerContext{
		env:        r.env,
		vars:       vars,
		recipeName: documentName(doc),
	}
	rendered, err := renderTemplates(doc, pc)
	if err != nil {
		return nil, stampDocument(err, canonical)
	}
	return rendered, nil
}

// resolve returns the merged-and-deleted document for id, resolving the
// parent chain first. Each level's deletes apply immediately after that
// level's merge, so a descendant can delete a field its merge just
// introduced and a further descendant can reintroduce it.
func (r *Resolver) resolve(ctx context.Context, res *resolution, id string) (Document, error) {
	switch res.states[id] {
	case stateVisiting:
		return nil, NewCycleDetectedError(append(append([]string{}, res.chain...), id)).WithDocument(id)
	case stateResolved:
		return res.cache[id].Copy(), nil
	}

	res.states[id] = stateVisiting
	res.chain = append(res.chain, id)
	defer func() {
		res.chain = res.chain[:len(res.chain)-1]
	}()

	doc, err := r.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	parentRef, inhErr := inheritanceRef(doc)
	if inhErr != nil {
		return nil, inhErr.WithDocument(id)
	}

	var result Document
	if parentRef == "" {
		// Chain root: strip the inheritance key and apply its own deletes.
		root := doc.Copy()
		delete(root, extendsKey)
		result, err = applyDeletes(root)
	} else {
		parentID, refErr := r.loader.ResolveRef(id, parentRef)
		if refErr != nil {
			return nil, refErr
		}
		parent, resolveErr := r.resolve(ctx, res, parentID)
		if resolveErr != nil {
			return nil, resolveErr
		}
		child := doc.Copy()
		delete(child, extendsKey)
		result, err = applyDeletes(Merge(parent, child))
	}
	if err != nil {
		return nil, stampDocument(err, id)
	}

	res.states[id] = stateResolved
	res.cache[id] = result
	return result.Copy(), nil
}

// inheritanceRef extracts the parent reference, if any. Multiple inheritance
// is unsupported: the reference must be a single string.
func inheritanceRef(doc Document) (string, *RecipeError) {
	v, ok := doc[extendsKey]
	if !ok {
		return "", nil
	}
	ref, ok := v.StringScalar()
	if !ok || ref == "" {
		return "", NewParseFailureError(
			fmt.Sprintf("%s must be a single parent identifier, got a %s", extendsKey, v.Kind()), nil)
	}
	return ref, nil
}

// documentName reads the document's own resolved name for the recipe
// self-metadata provider. A missing name renders as the empty string; typed
// validation rejects it later.
func documentName(doc Document) string {
	if v, ok := doc["name"]; ok {
		if s, ok := v.StringScalar(); ok {
			return s
		}
	}
	return ""
}

// stampDocument stamps the document identifier onto recipe errors that do
// not carry one yet.
func stampDocument(err error, id string) error {
	var re *RecipeError
	if errors.As(err, &re) && re.Document == "" {
		re.Document = id
	}
	return err
}
