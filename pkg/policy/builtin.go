package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		recipeNamingPolicy(),
		plaintextSecretsPolicy(),
		batchSizeCeilingPolicy(),
		mergeKeysPolicy(),
		parallelismCeilingPolicy(),
	}
}

// recipeNamingPolicy enforces recipe naming conventions.
func recipeNamingPolicy() Policy {
	return Policy{
		Name:        "recipe-naming",
		Description: "Enforces recipe naming conventions (lowercase, alphanumeric, hyphens and underscores only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ladle.policies.naming

import rego.v1

deny contains violation if {
	not input.recipe.name
	violation := {
		"message": "recipe must have a name",
		"severity": "error",
	}
}

deny contains violation if {
	name := input.recipe.name
	not regex.match("^[a-z0-9][a-z0-9_-]*$", name)
	violation := {
		"message": sprintf("recipe name '%s' must be lowercase alphanumeric with hyphens or underscores", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.recipe.name
	count(name) > 63
	violation := {
		"message": sprintf("recipe name '%s' must not exceed 63 characters", [name]),
		"severity": "error",
	}
}`,
	}
}

// plaintextSecretsPolicy flags credentials written directly into recipes
// instead of injected through env_var() templates.
func plaintextSecretsPolicy() Policy {
	return Policy{
		Name:        "no-plaintext-secrets",
		Description: "Warns when connector credentials are short literal values, suggesting they were typed into the recipe rather than injected from the environment",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"secrets", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ladle.policies.secrets

import rego.v1

secret_fields := {"password", "auth_token", "auth_password", "sftp_password"}

deny contains violation if {
	some field in secret_fields
	value := input.recipe.source[field]
	is_string(value)
	count(value) > 0
	count(value) < 8
	violation := {
		"message": sprintf("source field '%s' looks like a weak or hardcoded secret; inject it via env_var() instead", [field]),
		"severity": "warning",
	}
}

deny contains violation if {
	some field in secret_fields
	value := input.recipe.destination[field]
	is_string(value)
	count(value) > 0
	count(value) < 8
	violation := {
		"message": sprintf("destination field '%s' looks like a weak or hardcoded secret; inject it via env_var() instead", [field]),
		"severity": "warning",
	}
}`,
	}
}

// batchSizeCeilingPolicy blocks runs with unreasonably large batches.
func batchSizeCeilingPolicy() Policy {
	return Policy{
		Name:        "batch-size-ceiling",
		Description: "Blocks runs whose batch size exceeds 100000 rows",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"runtime", "limits"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ladle.policies.batchsize

import rego.v1

deny contains violation if {
	size := input.recipe.runtime.batch_size
	size > 100000
	violation := {
		"message": sprintf("batch_size %d exceeds the ceiling of 100000", [size]),
		"severity": "error",
	}
}`,
	}
}

// mergeKeysPolicy blocks merge-mode destinations without merge keys.
func mergeKeysPolicy() Policy {
	return Policy{
		Name:        "merge-requires-keys",
		Description: "Blocks merge write mode without merge_keys",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"destination", "correctness"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ladle.policies.mergekeys

import rego.v1

deny contains violation if {
	input.recipe.destination.write_mode == "merge"
	not input.recipe.destination.merge_keys
	violation := {
		"message": "merge write mode requires merge_keys",
		"severity": "error",
	}
}

deny contains violation if {
	input.recipe.destination.write_mode == "merge"
	count(input.recipe.destination.merge_keys) == 0
	violation := {
		"message": "merge write mode requires at least one merge key",
		"severity": "error",
	}
}`,
	}
}

// parallelismCeilingPolicy warns about excessive worker counts.
func parallelismCeilingPolicy() Policy {
	return Policy{
		Name:        "parallelism-ceiling",
		Description: "Warns when parallelism exceeds 32 workers",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"runtime", "limits"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ladle.policies.parallelism

import rego.v1

deny contains violation if {
	workers := input.recipe.runtime.parallelism
	workers > 32
	violation := {
		"message": sprintf("parallelism %d exceeds 32 workers; expect connector throttling", [workers]),
		"severity": "warning",
	}
}`,
	}
}
