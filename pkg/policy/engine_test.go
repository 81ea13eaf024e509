package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ladleworks/ladle/pkg/recipe"
)

func testRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name: "orders-daily",
		Source: recipe.SourceConfig{
			Type:     "csv",
			Filepath: "orders.csv",
		},
		Destination: recipe.DestinationConfig{
			Type:     "sqlite",
			Database: "warehouse.db",
			Table:    "orders",
		},
		Runtime: recipe.RuntimeConfig{
			BatchSize:   1000,
			Parallelism: 2,
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return eng
}

func TestBuiltinPoliciesLoad(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	if len(policies) != len(GetBuiltinPolicies()) {
		t.Errorf("loaded %d policies, want %d", len(policies), len(GetBuiltinPolicies()))
	}
	for _, p := range policies {
		if !p.Enabled {
			t.Errorf("built-in policy %s should be enabled", p.Name)
		}
	}
}

func TestEvaluateCleanRecipe(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluateRecipe(context.Background(), testRecipe(), nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("clean recipe should be allowed, violations: %v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("unexpected violations: %v", result.Violations)
	}
	if len(result.EvaluatedPolicies) != len(GetBuiltinPolicies()) {
		t.Errorf("evaluated %d policies, want %d", len(result.EvaluatedPolicies), len(GetBuiltinPolicies()))
	}
}

func TestBatchSizeCeilingBlocks(t *testing.T) {
	eng := newTestEngine(t)

	rec := testRecipe()
	rec.Runtime.BatchSize = 500000

	result, err := eng.EvaluateRecipe(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("oversized batch_size should block the run")
	}
	if !hasViolation(result.Violations, "batch-size-ceiling") {
		t.Errorf("violations = %v, want batch-size-ceiling", result.Violations)
	}
}

func TestMergeWithoutKeysBlocks(t *testing.T) {
	eng := newTestEngine(t)

	rec := testRecipe()
	rec.Destination.WriteMode = "merge"

	result, err := eng.EvaluateRecipe(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("merge without merge_keys should block the run")
	}
	if !hasViolation(result.Violations, "merge-requires-keys") {
		t.Errorf("violations = %v, want merge-requires-keys", result.Violations)
	}
}

func TestMergeWithKeysAllowed(t *testing.T) {
	eng := newTestEngine(t)

	rec := testRecipe()
	rec.Destination.WriteMode = "merge"
	rec.Destination.MergeKeys = []string{"id"}

	result, err := eng.EvaluateRecipe(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("merge with keys should be allowed, violations: %v", result.Violations)
	}
}

func TestShortPasswordWarns(t *testing.T) {
	eng := newTestEngine(t)

	rec := testRecipe()
	rec.Source.Password = "hunter2"

	result, err := eng.EvaluateRecipe(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("secret warning should not block the run, violations: %v", result.Violations)
	}
	if !hasViolation(result.Warnings, "no-plaintext-secrets") {
		t.Errorf("warnings = %v, want no-plaintext-secrets", result.Warnings)
	}
}

func TestParallelismCeilingWarns(t *testing.T) {
	eng := newTestEngine(t)

	rec := testRecipe()
	rec.Runtime.Parallelism = 64

	result, err := eng.EvaluateRecipe(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("parallelism warning should not block the run")
	}
	if !hasViolation(result.Warnings, "parallelism-ceiling") {
		t.Errorf("warnings = %v, want parallelism-ceiling", result.Warnings)
	}
}

func TestRecipeNamingBlocks(t *testing.T) {
	eng := newTestEngine(t)

	rec := testRecipe()
	rec.Name = "Orders Daily!"

	result, err := eng.EvaluateRecipe(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("invalid recipe name should block the run")
	}
	if !hasViolation(result.Violations, "recipe-naming") {
		t.Errorf("violations = %v, want recipe-naming", result.Violations)
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy("batch-size-ceiling"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}

	rec := testRecipe()
	rec.Runtime.BatchSize = 500000

	result, err := eng.EvaluateRecipe(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy should not block, violations: %v", result.Violations)
	}

	if err := eng.EnablePolicy("batch-size-ceiling"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	result, _ = eng.EvaluateRecipe(context.Background(), rec, nil)
	if result.Allowed {
		t.Error("re-enabled policy should block again")
	}
}

func TestLoadCustomPolicy(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	src := `# Block destructive write modes in this deployment.
package ladle.policies.noverwrite

import rego.v1

deny contains violation if {
	input.recipe.destination.write_mode == "overwrite"
	violation := {
		"message": "overwrite is forbidden here",
		"severity": "error",
	}
}`
	if err := os.WriteFile(filepath.Join(dir, "no-overwrite.rego"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	if _, err := eng.GetPolicy("no-overwrite"); err != nil {
		t.Fatalf("GetPolicy(no-overwrite) error = %v", err)
	}

	rec := testRecipe()
	rec.Destination.WriteMode = "overwrite"

	result, err := eng.EvaluateRecipe(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("EvaluateRecipe() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("custom policy should block overwrite")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "no-overwrite" && strings.Contains(v.Message, "forbidden") {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want no-overwrite", result.Violations)
	}
}

func TestExtractPackageName(t *testing.T) {
	got := extractPackageName("# comment\npackage ladle.policies.x\n\ndeny := []")
	if got != "ladle.policies.x" {
		t.Errorf("extractPackageName() = %q", got)
	}
	if got := extractPackageName("deny := []"); got != "ladle.policies" {
		t.Errorf("default package = %q", got)
	}
}

func hasViolation(violations []Violation, policy string) bool {
	for _, v := range violations {
		if v.Policy == policy {
			return true
		}
	}
	return false
}
