package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ladleworks/ladle/pkg/connectors"
	"github.com/ladleworks/ladle/pkg/state"
)

func newTestConnectionCommand() *cobra.Command {
	var vars map[string]string

	cmd := &cobra.Command{
		Use:   "test-connection <recipe>",
		Short: "Test source and destination connections for a recipe",
		Long: `Resolve a recipe and verify that both its source and destination can
be opened with the configured credentials. The source is additionally
asked for one batch to confirm it is readable. No data is written.`,
		Example: `  # Test connections
  ladle test-connection recipes/orders.yaml

  # Test with variables for var() expressions
  ladle test-connection recipes/orders.yaml --var env=prod`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rec, err := resolveRecipe(ctx, args[0], vars)
			if err != nil {
				return err
			}

			fmt.Printf("Testing connections for recipe: %s\n\n", rec.Name)
			registry := connectors.NewRegistry()

			fmt.Printf("Testing source connection (%s)...\n", rec.Source.Type)
			src, err := registry.NewSource(rec.Source)
			if err != nil {
				fmt.Printf("✗ Source connection failed: %v\n", err)
				return fmt.Errorf("source connection failed: %w", err)
			}
			if err := src.Open(ctx, state.NewState(rec.Name)); err != nil {
				fmt.Printf("✗ Source connection failed: %v\n", err)
				return fmt.Errorf("source connection failed: %w", err)
			}
			rows := 0
			if b, rerr := src.ReadBatch(ctx, 1); rerr != nil && !errors.Is(rerr, io.EOF) {
				src.Close()
				fmt.Printf("✗ Source connection failed: %v\n", rerr)
				return fmt.Errorf("source connection failed: %w", rerr)
			} else if b != nil {
				rows = b.Len()
			}
			src.Close()
			fmt.Printf("✓ Source connection successful (sampled %d row(s))\n", rows)

			fmt.Printf("Testing destination connection (%s)...\n", rec.Destination.Type)
			dst, err := registry.NewDestination(rec.Destination)
			if err != nil {
				fmt.Printf("✗ Destination connection failed: %v\n", err)
				return fmt.Errorf("destination connection failed: %w", err)
			}
			if err := dst.Open(ctx); err != nil {
				fmt.Printf("✗ Destination connection failed: %v\n", err)
				return fmt.Errorf("destination connection failed: %w", err)
			}
			dst.Close()
			fmt.Println("✓ Destination connection successful")

			fmt.Println("\nAll connections successful!")
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "recipe variables (key=value)")

	return cmd
}
