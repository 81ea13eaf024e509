package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var (
		vars       map[string]string
		policyDirs []string
		noPolicies bool
	)

	cmd := &cobra.Command{
		Use:   "validate <recipe>",
		Short: "Validate a recipe without running it",
		Long: `Resolve a recipe through its inheritance chain and check it.

This command checks:
  - YAML syntax and inheritance resolution (including cycles)
  - Template expressions (env, var)
  - Recipe shape and connector-specific required fields
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate a recipe
  ladle validate recipes/orders.yaml

  # Validate with variables
  ladle validate recipes/orders.yaml --var region=eu

  # Include custom policies
  ladle validate recipes/orders.yaml --policy-dir ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipePath := args[0]
			ctx := cmd.Context()

			rec, err := resolveRecipe(ctx, recipePath, vars)
			if err != nil {
				return err
			}

			if !noPolicies {
				result, err := checkPolicies(ctx, rec, policyDirs, "validate")
				if err != nil {
					return err
				}
				if !result.Allowed {
					printViolations(result)
					return fmt.Errorf("recipe %s failed validation", rec.Name)
				}
				if len(result.Warnings) > 0 {
					fmt.Printf("✓ Recipe %s is valid (%d warning(s))\n", rec.Name, len(result.Warnings))
					return nil
				}
			}

			fmt.Printf("✓ Recipe %s is valid\n", rec.Name)
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "recipe variables (key=value)")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy directories")
	cmd.Flags().BoolVar(&noPolicies, "no-policies", false, "skip policy evaluation")

	return cmd
}
