package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ladleworks/ladle/pkg/recipe"
)

func newRenderCommand() *cobra.Command {
	var (
		vars    map[string]string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "render <recipe>",
		Short: "Print the fully resolved recipe",
		Long: `Resolve a recipe through its inheritance chain and print the final
document: parents merged, delete directives applied, and template
expressions rendered.

Useful for debugging inheritance and templating before a run.`,
		Example: `  # Print the resolved recipe to stdout
  ladle render recipes/orders.yaml

  # Render with variables and write to a file
  ladle render recipes/orders.yaml --var region=eu --out resolved.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipePath := args[0]

			resolver := recipe.NewResolver(recipe.NewFileLoader(), log.Logger)
			doc, err := resolver.ResolveDocument(cmd.Context(), recipePath, vars)
			if err != nil {
				return fmt.Errorf("failed to resolve recipe %s: %w", recipePath, err)
			}

			data, err := yaml.Marshal(doc.ToTree())
			if err != nil {
				return fmt.Errorf("failed to encode resolved recipe: %w", err)
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, data, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", outPath, err)
				}
				fmt.Printf("✓ Resolved recipe written to %s\n", outPath)
				return nil
			}

			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "recipe variables (key=value)")
	cmd.Flags().StringVar(&outPath, "out", "", "write the resolved recipe to this file")

	return cmd
}
