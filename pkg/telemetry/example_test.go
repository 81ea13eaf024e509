package telemetry_test

import (
	"context"
	"fmt"

	"github.com/ladleworks/ladle/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "ladle"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("engine")

	logger = logger.WithRunID("run-123").WithRecipe("load_users")

	logger.Debug("Starting pipeline run")
	logger.Info("Batch written")
	logger.Warn("Cursor behind watermark")

	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Failed to reach source")

	// Output varies, no output specified
}

// Example_runInstrumentation demonstrates the run lifecycle helpers.
func Example_runInstrumentation() {
	cfg := telemetry.DefaultConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	runID := "run-abc"
	recipe := "load_users"

	ctx = telemetry.WithRunContext(ctx, runID, recipe)

	var runErr error
	rowsWritten := 0
	for seq := 0; seq < 3; seq++ {
		batchCtx := telemetry.WithBatchContext(ctx, runID, seq)
		rows := 100
		rowsWritten += rows
		telemetry.EndBatchContext(batchCtx, runID, recipe, seq, rows, nil)
	}

	telemetry.EndRunContext(ctx, runID, recipe, rowsWritten, runErr)

	// Output varies, no output specified
}

// Example_connectorInstrumentation demonstrates wrapping connector calls.
func Example_connectorInstrumentation() {
	cfg := telemetry.DefaultConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	err := telemetry.RecordConnectorOperation(ctx, "sqlite", "write", func() error {
		return nil // write a batch here
	})
	if err != nil {
		panic(err)
	}

	// Output varies, no output specified
}
