package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const baseRecipe = `# Shared defaults for all recipes in this workspace.
name: base

runtime:
  batch_size: 5000
  max_retries: 3
  state:
    backend: file
    path: .ladle/state

destination:
  type: sqlite
  database: warehouse.db
  write_mode: append
`

const exampleRecipe = `# Example recipe. Inherits runtime and destination defaults from
# base.yaml and overrides what differs.
name: orders
extends: base.yaml

source:
  type: csv
  filepath: orders.csv
  incremental:
    strategy: cursor
    cursor_column: id

transform:
  steps:
    - type: rename_columns
      mapping:
        OrderID: order_id
    - type: cast
      columns:
        order_id: int
        total: float
    - type: add_column
      name: loaded_by
      value: "{{ env_var('USER') }}"

destination:
  table: orders
`

const examplePolicy = `# Limit which destinations this workspace may write to.
package ladle.policies.destinations

import rego.v1

allowed_destinations := {"sqlite", "csv", "filestore"}

deny contains violation if {
	not input.recipe.destination.type in allowed_destinations
	violation := {
		"message": sprintf("destination type %q is not allowed", [input.recipe.destination.type]),
		"severity": "error",
	}
}
`

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a Ladle workspace",
		Long: `Initialize a new Ladle workspace with a state directory, example
recipes, and an example policy.

The generated recipes demonstrate inheritance: orders.yaml inherits
shared runtime and destination settings from base.yaml.`,
		Example: `  # Initialize the current directory
  ladle init

  # Initialize a new directory
  ladle init ./pipelines`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}

			log.Info().Str("dir", root).Msg("Initializing workspace")

			dirs := []string{
				filepath.Join(root, "recipes"),
				filepath.Join(root, "policies"),
				filepath.Join(root, ".ladle", "state"),
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			files := map[string]string{
				filepath.Join(root, "recipes", "base.yaml"):          baseRecipe,
				filepath.Join(root, "recipes", "orders.yaml"):        exampleRecipe,
				filepath.Join(root, "policies", "destinations.rego"): examplePolicy,
			}
			for path, content := range files {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("✓ Already exists, skipping: %s\n", path)
					continue
				}
				if err := os.WriteFile(path, []byte(content), 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
				fmt.Printf("✓ Created file: %s\n", path)
			}

			fmt.Printf("\n✅ Workspace initialized!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Inspect the resolved example recipe:\n")
			fmt.Printf("     ladle render %s\n\n", filepath.Join(root, "recipes", "orders.yaml"))
			fmt.Printf("  2. Validate it against the workspace policies:\n")
			fmt.Printf("     ladle validate %s --policy-dir %s\n\n",
				filepath.Join(root, "recipes", "orders.yaml"), filepath.Join(root, "policies"))
			fmt.Printf("  3. Run it:\n")
			fmt.Printf("     ladle run %s\n\n", filepath.Join(root, "recipes", "orders.yaml"))

			return nil
		},
	}

	return cmd
}
