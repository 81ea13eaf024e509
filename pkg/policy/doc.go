// Package policy evaluates Rego policies against resolved recipes before a
// run starts.
//
// Policies see the resolved recipe under input.recipe (keyed by its YAML
// field names) and run metadata under input.context. A policy is a Rego
// module whose deny set yields violations, either as strings or as objects
// with message and severity fields:
//
//	package ladle.policies.example
//
//	import rego.v1
//
//	deny contains violation if {
//		input.recipe.runtime.batch_size > 100000
//		violation := {
//			"message": "batch size too large",
//			"severity": "error",
//		}
//	}
//
// Error-severity violations block the run; warnings are reported but do
// not. Built-in policies cover recipe naming, hardcoded credentials, batch
// size and parallelism ceilings, and merge-key requirements. Additional
// policies load from .rego or .json files, optionally watched for changes.
//
// Usage:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil { ... }
//	result, err := eng.EvaluateRecipe(ctx, rec, &policy.Context{Operation: "run"})
//	if !result.Allowed { ... }
package policy
