package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "default config is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name: "invalid trace exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "zipkin"
			},
			wantErr: true,
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: true,
		},
		{
			name: "metrics enabled without address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			wantErr: true,
		},
		{
			name: "events enabled with zero buffer",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.BufferSize = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	// Chained field helpers must not panic and must return new loggers.
	child := logger.NewComponentLogger("engine").
		WithRunID("run-1").
		WithRecipe("load_users").
		WithBatch(3).
		WithConnector("sqlite", "destination")

	if child == logger {
		t.Error("field helpers should return a new logger")
	}
	child.Debug("test message")
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	ctx := logger.WithContext(context.Background())
	got := FromContext(ctx)
	if got != logger {
		t.Error("FromContext() did not return the logger stored in context")
	}

	// A context without a logger still yields a usable default.
	fallback := FromContext(context.Background())
	if fallback == nil {
		t.Fatal("FromContext() returned nil for empty context")
	}
	fallback.Info("fallback logger works")
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// All recorders must be safe to call on a disabled instance.
	m.RecordRunStarted("r")
	m.RecordRunCompleted("r", "succeeded", time.Second)
	m.RecordBatch("r", "succeeded", time.Millisecond)
	m.RecordRowsRead("r", "csv", 10)
	m.RecordRowsWritten("r", "sqlite", 10)
	m.RecordRowsFiltered("r", 1)
	m.RecordTransform("r", "cast", time.Millisecond)
	m.RecordConnectorCall("csv", "read", time.Millisecond)
	m.RecordConnectorError("csv", "read")
	m.RecordError("parse_failure")
}

func TestMetricsEnabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "ladle",
	})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordRunStarted("load_users")
	m.RecordRowsRead("load_users", "csv", 42)
	m.RecordBatch("load_users", "succeeded", 50*time.Millisecond)
	m.RecordRunCompleted("load_users", "succeeded", time.Second)

	if m.Handler() == nil {
		t.Error("Handler() returned nil for enabled metrics")
	}
}

func TestEventPublisherDelivery(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:    true,
		BufferSize: 16,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 1)

	ep.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}, nil)

	if err := ep.PublishRunStarted("run-1", "load_users"); err != nil {
		t.Fatalf("PublishRunStarted() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	e := got[0]
	if e.Type != EventTypeRunStarted {
		t.Errorf("Type = %q, want %q", e.Type, EventTypeRunStarted)
	}
	if e.RunID != "run-1" || e.Recipe != "load_users" {
		t.Errorf("event context = (%q, %q), want (run-1, load_users)", e.RunID, e.Recipe)
	}
	if e.ID == "" {
		t.Error("event ID was not assigned")
	}
	if e.Timestamp.IsZero() {
		t.Error("event timestamp was not assigned")
	}
}

func TestEventPublisherFilters(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:    true,
		BufferSize: 16,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 4)

	ep.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	}, FilterByLevel(EventLevelError))

	_ = ep.PublishBatchCompleted("run-1", 0, 100, time.Millisecond) // info, filtered
	_ = ep.PublishRunFailed("run-1", "load_users", "boom")          // error, delivered

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("error event was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0].Type != EventTypeRunFailed {
		t.Errorf("Type = %q, want %q", got[0].Type, EventTypeRunFailed)
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	if err := ep.Publish(Event{Type: EventTypeError}); err != nil {
		t.Errorf("Publish() on disabled publisher error = %v", err)
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on disabled publisher error = %v", err)
	}
}

func TestEventPublisherShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestFilterByType(t *testing.T) {
	f := FilterByType(EventTypeRunFailed, EventTypeBatchFailed)
	if !f(Event{Type: EventTypeRunFailed}) {
		t.Error("FilterByType rejected a listed type")
	}
	if f(Event{Type: EventTypeRunStarted}) {
		t.Error("FilterByType accepted an unlisted type")
	}
}
