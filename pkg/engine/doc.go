// Package engine executes pipeline runs.
//
// A run streams batches from a Source through an ordered chain of Transforms
// into a Destination. The engine owns batching, parallelism, retries, and
// incremental state:
//
//   - The source is read sequentially in batches of runtime.batch_size rows.
//   - Transforms run in parallel across batches when runtime.parallelism > 1.
//     Writes are serialized, but write order across batches is not guaranteed
//     at parallelism > 1.
//   - Write failures classified as transient or throttled are retried up to
//     runtime.max_retries with linear backoff. Permanent failures abort the
//     run immediately.
//   - After every written batch the recipe's state (cursor, row counts) is
//     saved, so an interrupted run resumes from the last committed batch.
//
// Errors flowing through the engine are classified PipelineErrors; see
// IsRetryable for the retry contract connectors should follow.
//
// Usage:
//
//	eng := engine.New(engine.Options{Telemetry: tel})
//	result, err := eng.Run(ctx, engine.Pipeline{
//	    Recipe:      rec,
//	    Source:      src,
//	    Transforms:  chain,
//	    Destination: dst,
//	    Store:       store,
//	})
package engine
