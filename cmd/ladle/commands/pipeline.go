package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/ladleworks/ladle/pkg/connectors"
	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/policy"
	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
	"github.com/ladleworks/ladle/pkg/telemetry"
	"github.com/ladleworks/ladle/pkg/transforms"
)

// resolveRecipe resolves a recipe file through the inheritance chain and
// returns the typed, validated recipe.
func resolveRecipe(ctx context.Context, path string, vars map[string]string) (*recipe.Recipe, error) {
	resolver := recipe.NewResolver(recipe.NewFileLoader(), log.Logger)
	rec, err := resolver.Resolve(ctx, path, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipe %s: %w", path, err)
	}
	return rec, nil
}

// checkPolicies evaluates a resolved recipe against built-in and custom
// policies. Warnings are logged; the caller decides what to do with a
// blocked result.
func checkPolicies(ctx context.Context, rec *recipe.Recipe, policyDirs []string, operation string) (*policy.Result, error) {
	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(policyDirs) > 0 {
		if err := eng.LoadPolicies(ctx, policyDirs); err != nil {
			return nil, err
		}
	}

	result, err := eng.EvaluateRecipe(ctx, rec, &policy.Context{Operation: operation})
	if err != nil {
		return nil, err
	}

	for _, w := range result.Warnings {
		log.Warn().
			Str("policy", w.Policy).
			Str("recipe", w.Recipe).
			Msg(w.Message)
	}
	return result, nil
}

// printViolations reports blocking policy violations to the user.
func printViolations(result *policy.Result) {
	fmt.Printf("Recipe blocked by %d policy violation(s):\n", len(result.Violations))
	for _, v := range result.Violations {
		fmt.Printf("  ✗ [%s] %s\n", v.Policy, v.Message)
	}
}

// executeRun assembles the pipeline for a resolved recipe and runs it.
// recipePath anchors relative paths such as WASM transform modules.
func executeRun(ctx context.Context, tel *telemetry.Telemetry, recipePath string, rec *recipe.Recipe) (*engine.RunResult, error) {
	registry := connectors.NewRegistry()

	src, err := registry.NewSource(rec.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}
	dst, err := registry.NewDestination(rec.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}

	treg := transforms.NewRegistry()
	wasmMods, err := transforms.RegisterCustomTransforms(ctx, treg, filepath.Dir(recipePath), rec.Runtime.CustomTransforms)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom transforms: %w", err)
	}
	defer func() {
		for _, m := range wasmMods {
			if cerr := m.Close(ctx); cerr != nil {
				log.Warn().Err(cerr).Str("transform", m.Name()).Msg("Failed to close WASM transform")
			}
		}
	}()

	tfs, err := treg.Build(rec.Transform.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to build transforms: %w", err)
	}

	store, err := state.Open(rec.Runtime.State)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}
	defer store.Close()

	eng := engine.New(engine.Options{Telemetry: tel})
	return eng.Run(ctx, engine.Pipeline{
		Recipe:      rec,
		Source:      src,
		Transforms:  tfs,
		Destination: dst,
		Store:       store,
	})
}

// buildTelemetry creates the telemetry stack for a run based on global
// flags.
func buildTelemetry(metricsAddr string) (*telemetry.Telemetry, error) {
	var cfg *telemetry.Config
	if verbose {
		cfg = telemetry.DevelopmentConfig()
	} else {
		cfg = telemetry.DefaultConfig()
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}
	return telemetry.NewTelemetry(cfg)
}
