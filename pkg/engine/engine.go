package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
	"github.com/ladleworks/ladle/pkg/telemetry"
)

// retryBaseDelay is the base delay between write retries. Attempt n waits
// n * retryBaseDelay.
const retryBaseDelay = 500 * time.Millisecond

// Engine executes pipeline runs: it streams batches from a source through
// the transform chain into a destination, saving incremental state after
// every written batch.
type Engine struct {
	tel *telemetry.Telemetry
	log *telemetry.Logger
}

// Options configures an Engine.
type Options struct {
	// Telemetry is the telemetry stack to instrument runs with. Optional.
	Telemetry *telemetry.Telemetry
}

// New creates a new Engine.
func New(opts Options) *Engine {
	e := &Engine{tel: opts.Telemetry}
	if opts.Telemetry != nil {
		e.log = opts.Telemetry.Logger.NewComponentLogger("engine")
	} else {
		logger, _ := telemetry.NewLogger(telemetry.DefaultConfig().Logging)
		e.log = logger.NewComponentLogger("engine")
	}
	return e
}

// Pipeline holds the assembled components for one run.
type Pipeline struct {
	// Recipe is the resolved recipe being executed.
	Recipe *recipe.Recipe

	// Source produces batches.
	Source Source

	// Transforms are applied to every batch, in order.
	Transforms []Transform

	// Destination receives transformed batches.
	Destination Destination

	// Store persists incremental state and run history.
	Store state.Store
}

func (p *Pipeline) validate() error {
	if p.Recipe == nil {
		return NewPermanentError("pipeline has no recipe", nil)
	}
	if p.Source == nil {
		return NewPermanentError("pipeline has no source", nil)
	}
	if p.Destination == nil {
		return NewPermanentError("pipeline has no destination", nil)
	}
	if p.Store == nil {
		return NewPermanentError("pipeline has no state store", nil)
	}
	return nil
}

// Run executes the pipeline. It returns the run result together with the
// error that failed the run, if any. State is saved after every successful
// batch, so a failed run resumes from the last written batch.
func (e *Engine) Run(ctx context.Context, p Pipeline) (*RunResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	rec := p.Recipe
	runID := uuid.New().String()
	result := &RunResult{
		RunID:     runID,
		Recipe:    rec.Name,
		StartedAt: time.Now().UTC(),
	}

	if e.tel != nil {
		ctx = e.tel.WithContext(ctx)
	}
	ctx = telemetry.WithRunContext(ctx, runID, rec.Name)

	log := e.log.WithRunID(runID).WithRecipe(rec.Name)
	log.Info("starting pipeline run")

	runErr := e.execute(ctx, p, runID, result)

	result.CompletedAt = time.Now().UTC()
	if runErr != nil {
		result.Status = RunStatusFailed
		result.Err = runErr
		log.WithError(runErr).Error("pipeline run failed")
	} else {
		result.Status = RunStatusSucceeded
		log.WithFields(map[string]interface{}{
			"rows_read":    result.RowsRead,
			"rows_written": result.RowsWritten,
			"batches":      result.Batches,
		}).Info("pipeline run completed")
	}

	telemetry.EndRunContext(ctx, runID, rec.Name, int(result.RowsWritten), runErr)

	if err := e.recordRun(ctx, p.Store, result); err != nil {
		log.WithError(err).Warn("failed to record run history")
	}

	return result, runErr
}

func (e *Engine) execute(ctx context.Context, p Pipeline, runID string, result *RunResult) error {
	rec := p.Recipe

	st, err := p.Store.LoadState(ctx, rec.Name)
	if errors.Is(err, state.ErrStateNotFound) {
		st = state.NewState(rec.Name)
	} else if err != nil {
		return NewPermanentError("failed to load state", err)
	}

	if err := p.Source.Open(ctx, st); err != nil {
		return classifyConnectorErr(err, rec.Source.Type, "open")
	}
	defer p.Source.Close()

	if err := p.Destination.Open(ctx); err != nil {
		return classifyConnectorErr(err, rec.Destination.Type, "open")
	}
	defer p.Destination.Close()

	parallelism := rec.Runtime.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	var (
		mu      sync.Mutex // guards writes, state, and result counters
		batches = make(chan *Batch, parallelism)
	)

	g, gctx := errgroup.WithContext(ctx)

	// Reader: sequentially pulls batches from the source.
	g.Go(func() error {
		defer close(batches)
		seq := 0
		for {
			b, err := p.Source.ReadBatch(gctx, rec.Runtime.BatchSize)
			if b != nil && b.Len() > 0 {
				b.Seq = seq
				seq++
				mu.Lock()
				result.RowsRead += int64(b.Len())
				mu.Unlock()
				if e.tel != nil {
					e.tel.Metrics.RecordRowsRead(rec.Name, rec.Source.Type, b.Len())
				}
				select {
				case batches <- b:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return classifyConnectorErr(err, rec.Source.Type, "read")
			}
		}
	})

	// Workers: transform batches in parallel, then write serially under mu.
	// Write order across batches is not guaranteed when parallelism > 1.
	for i := 0; i < parallelism; i++ {
		g.Go(func() error {
			for b := range batches {
				if err := e.processBatch(gctx, p, runID, st, b, &mu, result); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.Destination.Commit(ctx); err != nil {
		return classifyConnectorErr(err, rec.Destination.Type, "commit")
	}
	return nil
}

// processBatch runs one batch through the transform chain and writes it.
func (e *Engine) processBatch(ctx context.Context, p Pipeline, runID string, st *state.State, b *Batch, mu *sync.Mutex, result *RunResult) error {
	rec := p.Recipe
	bctx := telemetry.WithBatchContext(ctx, runID, b.Seq)

	out, err := e.applyTransforms(bctx, rec, p.Transforms, b)
	if err == nil {
		err = validateSchema(rec.Schema, out)
	}
	if err == nil && out.Len() > 0 {
		mu.Lock()
		err = e.writeWithRetry(bctx, p.Destination, out, rec)
		if err == nil {
			e.advanceState(bctx, p, st, out, runID)
			result.RowsWritten += int64(out.Len())
			result.Batches++
		}
		mu.Unlock()
	} else if err == nil {
		// Every row was filtered out; the batch still counts as processed.
		mu.Lock()
		result.Batches++
		mu.Unlock()
	}

	telemetry.EndBatchContext(bctx, runID, rec.Name, b.Seq, out.Len(), err)
	if err != nil {
		if pe, ok := err.(*PipelineError); ok {
			pe.WithBatch(b.Seq)
		}
		return err
	}

	if e.tel != nil {
		e.tel.Metrics.RecordRowsWritten(rec.Name, rec.Destination.Type, out.Len())
		filtered := b.Len() - out.Len()
		if filtered > 0 {
			e.tel.Metrics.RecordRowsFiltered(rec.Name, filtered)
		}
	}
	return nil
}

func (e *Engine) applyTransforms(ctx context.Context, rec *recipe.Recipe, transforms []Transform, b *Batch) (*Batch, error) {
	out := b
	for _, t := range transforms {
		timer := telemetry.NewTimer()
		next, err := t.Apply(ctx, out)
		if e.tel != nil {
			e.tel.Metrics.RecordTransform(rec.Name, t.Name(), timer.Duration())
		}
		if err != nil {
			return nil, classifyTransformErr(err, t.Name())
		}
		out = next
	}
	return out, nil
}

// classifyTransformErr wraps a transform error. Transform failures are
// deterministic, so they are never retried.
func classifyTransformErr(err error, name string) error {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return NewPermanentError(fmt.Sprintf("transform %s failed", name), err).
		WithOperation("transform")
}

func (e *Engine) recordRun(ctx context.Context, store state.Store, result *RunResult) error {
	record := &state.RunRecord{
		ID:          result.RunID,
		Recipe:      result.Recipe,
		Status:      state.RunStatus(result.Status),
		StartedAt:   result.StartedAt,
		CompletedAt: &result.CompletedAt,
		RowsRead:    result.RowsRead,
		RowsWritten: result.RowsWritten,
	}
	if result.Err != nil {
		msg := result.Err.Error()
		record.Error = &msg
	}
	return store.RecordRun(ctx, record)
}

// writeWithRetry writes a batch, retrying transient failures up to the
// recipe's max_retries with linear backoff.
func (e *Engine) writeWithRetry(ctx context.Context, dst Destination, b *Batch, rec *recipe.Recipe) error {
	maxRetries := rec.Runtime.MaxRetries
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * retryBaseDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			e.log.Warnf("retrying batch %d write (attempt %d of %d)", b.Seq, attempt, maxRetries)
		}

		err := telemetry.RecordConnectorOperation(ctx, rec.Destination.Type, "write", func() error {
			return dst.WriteBatch(ctx, b)
		})
		if err == nil {
			return nil
		}
		lastErr = classifyConnectorErr(err, rec.Destination.Type, "write")
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// advanceState folds the batch into the recipe state and saves it. Called
// with the write lock held so cursor updates never race.
func (e *Engine) advanceState(ctx context.Context, p Pipeline, st *state.State, b *Batch, runID string) {
	rec := p.Recipe
	st.RowsLoaded += int64(b.Len())
	st.LastRunID = runID
	st.UpdatedAt = time.Now().UTC()

	if inc := rec.Source.Incremental; inc != nil {
		for _, row := range b.Rows {
			v, ok := row[inc.CursorColumn]
			if !ok || v == nil {
				continue
			}
			current, has := st.CursorValue(inc.CursorColumn)
			if !has || cursorLess(current, v) {
				st.SetCursor(inc.CursorColumn, v)
			}
		}
	}

	if err := p.Store.SaveState(ctx, st); err != nil {
		e.log.WithError(err).Warn("failed to save state after batch")
	} else if e.tel != nil {
		backend := rec.Runtime.State.Backend
		if backend == "" {
			backend = "file"
		}
		_ = e.tel.Events.PublishStateSaved(runID, rec.Name, backend)
	}
}

// cursorLess reports whether a sorts before b. Numeric values compare
// numerically; everything else compares as strings, which orders ISO-8601
// timestamps correctly.
func cursorLess(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// classifyConnectorErr wraps a raw connector error, preserving an existing
// classification if the connector already returned a PipelineError.
func classifyConnectorErr(err error, connector, operation string) error {
	var pe *PipelineError
	if errors.As(err, &pe) {
		if pe.Connector == "" {
			pe.Connector = connector
		}
		if pe.Operation == "" {
			pe.Operation = operation
		}
		return pe
	}
	return NewPermanentError(fmt.Sprintf("%s %s failed", connector, operation), err).
		WithConnector(connector).
		WithOperation(operation)
}
