package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		vars        map[string]string
		policyDirs  []string
		noPolicies  bool
		dryRun      bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run <recipe>",
		Short: "Run a recipe pipeline",
		Long: `Resolve a recipe and execute its pipeline: read batches from the
source, apply the transform steps, and write to the destination.

Incremental recipes resume from the cursor saved by the previous run.
Policies are evaluated before the pipeline starts; error-severity
violations block the run.`,
		Example: `  # Run a recipe
  ladle run recipes/orders.yaml

  # Run with variables for var() expressions
  ladle run recipes/orders.yaml --var region=eu --var day=2024-06-01

  # Resolve and check policies without moving data
  ladle run recipes/orders.yaml --dry-run

  # Expose Prometheus metrics during the run
  ladle run recipes/orders.yaml --metrics :9464`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipePath := args[0]
			ctx := cmd.Context()

			rec, err := resolveRecipe(ctx, recipePath, vars)
			if err != nil {
				return err
			}

			log.Info().
				Str("recipe", rec.Name).
				Str("source", rec.Source.Type).
				Str("destination", rec.Destination.Type).
				Int("transform_steps", len(rec.Transform.Steps)).
				Msg("Recipe resolved")

			if !noPolicies {
				result, err := checkPolicies(ctx, rec, policyDirs, "run")
				if err != nil {
					return err
				}
				if !result.Allowed {
					printViolations(result)
					return fmt.Errorf("recipe %s blocked by policy", rec.Name)
				}
			}

			if dryRun {
				fmt.Printf("✓ Recipe %s resolved and allowed (dry run, no data moved)\n", rec.Name)
				return nil
			}

			tel, err := buildTelemetry(metricsAddr)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				if serr := tel.Shutdown(ctx); serr != nil {
					log.Warn().Err(serr).Msg("Telemetry shutdown failed")
				}
			}()

			result, err := executeRun(ctx, tel, recipePath, rec)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}

			fmt.Printf("✓ Run %s completed\n", result.RunID)
			fmt.Printf("  rows read:    %d\n", result.RowsRead)
			fmt.Printf("  rows written: %d\n", result.RowsWritten)
			fmt.Printf("  batches:      %d\n", result.Batches)
			fmt.Printf("  duration:     %s\n", result.Duration().Round(time.Millisecond))

			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "recipe variables (key=value)")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy directories")
	cmd.Flags().BoolVar(&noPolicies, "no-policies", false, "skip policy evaluation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and check the recipe without moving data")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "expose Prometheus metrics on this address")

	return cmd
}
