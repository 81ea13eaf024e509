package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and manage incremental state",
		Long: `Inspect and manage the incremental state saved by pipeline runs.

All subcommands take a recipe file: the recipe determines which state
backend to open (runtime.state) and which state entry belongs to it.`,
	}

	cmd.AddCommand(newStateShowCommand())
	cmd.AddCommand(newStateResetCommand())
	cmd.AddCommand(newStateRunsCommand())

	return cmd
}

// openRecipeStore resolves a recipe and opens its configured state store.
func openRecipeStore(ctx context.Context, recipePath string, vars map[string]string) (*recipe.Recipe, state.Store, error) {
	rec, err := resolveRecipe(ctx, recipePath, vars)
	if err != nil {
		return nil, nil, err
	}

	store, err := state.Open(rec.Runtime.State)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize state store: %w", err)
	}
	return rec, store, nil
}

func newStateShowCommand() *cobra.Command {
	var vars map[string]string

	cmd := &cobra.Command{
		Use:   "show <recipe>",
		Short: "Show the saved state for a recipe",
		Example: `  # Show the cursor and row counts for a recipe
  ladle state show recipes/orders.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rec, store, err := openRecipeStore(ctx, args[0], vars)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.LoadState(ctx, rec.Name)
			if errors.Is(err, state.ErrStateNotFound) {
				fmt.Printf("No state for recipe %s (next run starts fresh)\n", rec.Name)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load state: %w", err)
			}

			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "recipe variables (key=value)")

	return cmd
}

func newStateResetCommand() *cobra.Command {
	var vars map[string]string

	cmd := &cobra.Command{
		Use:   "reset <recipe>",
		Short: "Delete the saved state for a recipe",
		Long: `Delete the saved state for a recipe. The next run performs a full
load instead of resuming from the cursor.`,
		Example: `  # Force the next run to start from scratch
  ladle state reset recipes/orders.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rec, store, err := openRecipeStore(ctx, args[0], vars)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteState(ctx, rec.Name); err != nil {
				if errors.Is(err, state.ErrStateNotFound) {
					fmt.Printf("No state for recipe %s\n", rec.Name)
					return nil
				}
				return fmt.Errorf("failed to delete state: %w", err)
			}

			fmt.Printf("✓ State for recipe %s deleted\n", rec.Name)
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "recipe variables (key=value)")

	return cmd
}

func newStateRunsCommand() *cobra.Command {
	var (
		vars  map[string]string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "runs <recipe>",
		Short: "Show recent run history for a recipe",
		Example: `  # Show the last 10 runs
  ladle state runs recipes/orders.yaml

  # Show the last 50 runs
  ladle state runs recipes/orders.yaml --limit 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rec, store, err := openRecipeStore(ctx, args[0], vars)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, rec.Name, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Printf("No runs recorded for recipe %s\n", rec.Name)
				return nil
			}

			if jsonOutput {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("%-36s %-10s %-20s %12s %12s\n", "RUN", "STATUS", "STARTED", "ROWS READ", "ROWS WRITTEN")
			for _, run := range runs {
				fmt.Printf("%-36s %-10s %-20s %12d %12d\n",
					run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"),
					run.RowsRead, run.RowsWritten)
			}
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "recipe variables (key=value)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs to show")

	return cmd
}
