// Package telemetry provides observability instrumentation for Ladle.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging pipeline runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async run event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "ladle"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID("run-123").WithRecipe("load_users")
//	logger.Info("Starting pipeline run")
//	logger.WithError(err).Error("Run failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run structure and performance. Each run
// produces one root span, with child spans per batch and per connector
// operation:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, recipeName)
//	defer span.End()
//
//	ctx, batchSpan := tel.Tracer.StartBatchSpan(ctx, runID, seq)
//	defer batchSpan.End()
//
//	if err != nil {
//	    telemetry.RecordError(batchSpan, err)
//	}
//
// Supported exporters: OTLP gRPC (production), stdout (development), none.
//
// # Metrics
//
// Prometheus metrics track pipeline throughput and health:
//
//	tel.Metrics.RecordRunStarted("load_users")
//	tel.Metrics.RecordRowsRead("load_users", "csv", batch.Len())
//	tel.Metrics.RecordBatch("load_users", "succeeded", duration)
//	tel.Metrics.RecordRunCompleted("load_users", "succeeded", duration)
//
// Metrics are exposed via an HTTP endpoint (default :9464/metrics) in
// Prometheus exposition format.
//
// # Events
//
// The event publisher delivers run lifecycle events (started, completed,
// failed, batch completed, state saved, policy violations) to registered
// subscribers:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Printf("[%s] %s\n", e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// # Instrumentation Helpers
//
// The package provides context helpers that wire all four pillars together:
//
//	ctx = telemetry.WithRunContext(ctx, runID, recipeName)
//	defer telemetry.EndRunContext(ctx, runID, recipeName, rowsWritten, err)
//
//	err := telemetry.RecordConnectorOperation(ctx, "sqlite", "write", func() error {
//	    return dest.Write(ctx, batch)
//	})
package telemetry
