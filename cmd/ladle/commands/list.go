package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ladleworks/ladle/pkg/connectors"
	"github.com/ladleworks/ladle/pkg/policy"
	"github.com/ladleworks/ladle/pkg/transforms"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available connectors, transforms, and policies",
	}

	cmd.AddCommand(newListRecipesCommand())
	cmd.AddCommand(newListConnectorsCommand())
	cmd.AddCommand(newListTransformsCommand())
	cmd.AddCommand(newListPoliciesCommand())

	return cmd
}

func newListRecipesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recipes [dir]",
		Short: "List recipes in a directory",
		Long: `List the recipe files in a directory with their source and
destination types. Recipes that fail to resolve are shown with the
resolution error.`,
		Example: `  # List recipes in the current directory
  ladle list recipes

  # List recipes in a workspace
  ladle list recipes ./recipes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("failed to read directory %s: %w", dir, err)
			}

			found := false
			for _, entry := range entries {
				if entry.IsDir() || !isRecipeFile(entry.Name()) {
					continue
				}
				found = true
				path := filepath.Join(dir, entry.Name())

				rec, err := resolveRecipe(cmd.Context(), path, nil)
				if err != nil {
					fmt.Printf("%-32s (unresolvable: %v)\n", entry.Name(), err)
					continue
				}
				fmt.Printf("%-32s %-20s %s -> %s\n", entry.Name(), rec.Name, rec.Source.Type, rec.Destination.Type)
			}
			if !found {
				fmt.Printf("No recipes found in %s\n", dir)
			}
			return nil
		},
	}
}

func newListConnectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List registered source and destination connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := connectors.NewRegistry()

			fmt.Println("Sources:")
			for _, name := range registry.SupportedSources() {
				fmt.Printf("  %s\n", name)
			}
			fmt.Println("Destinations:")
			for _, name := range registry.SupportedDestinations() {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}
}

func newListTransformsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transforms",
		Short: "List built-in transform types",
		Long: `List the built-in transform types. Recipes may add further types via
runtime.custom_transforms WASM modules; those are recipe-scoped and not
shown here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range transforms.NewRegistry().Types() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newListPoliciesCommand() *cobra.Command {
	var policyDirs []string

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List built-in and loaded policies",
		Example: `  # List built-in policies
  ladle list policies

  # Include workspace policies
  ladle list policies --policy-dir ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if len(policyDirs) > 0 {
				if err := eng.LoadPolicies(cmd.Context(), policyDirs); err != nil {
					return err
				}
			}

			for _, p := range eng.ListPolicies() {
				status := "enabled"
				if !p.Enabled {
					status = "disabled"
				}
				fmt.Printf("%-24s %-8s %-8s %s\n", p.Name, p.Severity, status, firstLine(p.Description))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy directories")

	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
