// Package recipe implements the recipe resolution engine for Ladle.
//
// # Overview
//
// A recipe is a declarative YAML document describing one data-movement
// pipeline: a source, a transform pipeline, a destination, and runtime
// settings. Recipes may extend a single parent recipe; the resolver turns a
// tree of such documents into one fully resolved, validated execution plan
// before any data moves.
//
// # Resolution pipeline
//
// Resolution is a strict sequence:
//
//  1. Load the raw document (Loader).
//  2. Resolve the inheritance chain deepest-ancestor-first, merging each
//     level into the next and applying that level's delete directive
//     immediately after its merge (Resolver, Merge, applyDeletes).
//  3. Render template expressions against the final merged document
//     (renderTemplates). Three forms are recognized: env_var('X'),
//     var('X'), and recipe.name.
//  4. Validate the rendered document against the CUE recipe schema
//     (SchemaRegistry) and decode it onto the typed Recipe (DecodeRecipe).
//
// # Merge semantics
//
// Merging is a pure, right-biased, two-document fold. Mappings merge
// recursively, scalars and mismatched shapes take the child's value, and
// sequences are replaced wholesale with one exception: transform.steps
// accumulates, parent entries first. A document's delete directive lists
// dot paths removed after its own merge, so a level can delete a field its
// merge just introduced and a descendant can reintroduce it.
//
// # Concurrency
//
// A Resolver is safe for concurrent use. Each Resolve call owns its
// document cache and provider context; no state is shared across calls.
// Any failure is terminal for the call: callers never observe a partially
// merged or partially rendered document.
//
// # Usage
//
//	resolver := recipe.NewResolver(recipe.NewFileLoader(), logger)
//	rcp, err := resolver.Resolve(ctx, "recipes/orders.yaml", map[string]string{
//		"target_table": "orders",
//	})
//	if err != nil {
//		var re *recipe.RecipeError
//		if errors.As(err, &re) && re.Code == recipe.ErrCodeCycleDetected {
//			// re.Chain carries the full inheritance chain.
//		}
//		return err
//	}
package recipe
