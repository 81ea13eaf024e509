package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// devDebounce coalesces editor save bursts into one re-run.
const devDebounce = 500 * time.Millisecond

func newDevCommand() *cobra.Command {
	var (
		vars       map[string]string
		policyDirs []string
		noPolicies bool
	)

	cmd := &cobra.Command{
		Use:   "dev <recipe>",
		Short: "Run a recipe and re-run on change",
		Long: `Run a recipe, then watch its directory and re-run the pipeline
whenever a recipe file changes. Parents in the inheritance chain live
in the same tree, so edits to them trigger a re-run too.

Intended for local development; press Ctrl+C to stop.`,
		Example: `  # Develop a recipe with instant feedback
  ladle dev recipes/orders.yaml

  # Develop with variables
  ladle dev recipes/orders.yaml --var region=eu`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipePath := args[0]
			ctx := cmd.Context()

			tel, err := buildTelemetry("")
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				if serr := tel.Shutdown(context.Background()); serr != nil {
					log.Warn().Err(serr).Msg("Telemetry shutdown failed")
				}
			}()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			watchDir := filepath.Dir(recipePath)
			if err := watcher.Add(watchDir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", watchDir, err)
			}

			runOnce := func() {
				rec, err := resolveRecipe(ctx, recipePath, vars)
				if err != nil {
					log.Error().Err(err).Msg("Recipe resolution failed")
					return
				}
				if !noPolicies {
					result, err := checkPolicies(ctx, rec, policyDirs, "run")
					if err != nil {
						log.Error().Err(err).Msg("Policy evaluation failed")
						return
					}
					if !result.Allowed {
						printViolations(result)
						return
					}
				}
				result, err := executeRun(ctx, tel, recipePath, rec)
				if err != nil {
					log.Error().Err(err).Msg("Run failed")
					return
				}
				fmt.Printf("✓ Run %s: %d rows written in %s\n",
					result.RunID, result.RowsWritten, result.Duration().Round(time.Millisecond))
			}

			fmt.Printf("Watching %s (Ctrl+C to stop)\n", watchDir)
			runOnce()

			var debounce *time.Timer
			pending := make(chan struct{}, 1)

			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !isRecipeFile(event.Name) {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Recipe file changed")
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(devDebounce, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("Watcher error")
				case <-pending:
					runOnce()
				}
			}
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "recipe variables (key=value)")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy directories")
	cmd.Flags().BoolVar(&noPolicies, "no-policies", false, "skip policy evaluation")

	return cmd
}

func isRecipeFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
