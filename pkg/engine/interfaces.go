package engine

import (
	"context"

	"github.com/ladleworks/ladle/pkg/state"
)

// Source reads rows from an upstream system in batches.
//
// Open receives the recipe's saved state so incremental sources can resume
// from the stored cursor. ReadBatch returns io.EOF (possibly alongside a
// final partial batch of nil) once the source is exhausted.
type Source interface {
	// Open prepares the source for reading.
	Open(ctx context.Context, st *state.State) error

	// ReadBatch reads up to size rows. It returns io.EOF when no more rows
	// are available.
	ReadBatch(ctx context.Context, size int) (*Batch, error)

	// Close releases source resources.
	Close() error
}

// Destination writes batches to a downstream system.
//
// Open prepares the target (creating tables or truncating files for
// overwrite mode). Commit finalizes the load after all batches are written;
// destinations that write incrementally may treat it as a no-op.
type Destination interface {
	// Open prepares the destination for writing.
	Open(ctx context.Context) error

	// WriteBatch writes one batch.
	WriteBatch(ctx context.Context, b *Batch) error

	// Commit finalizes the load.
	Commit(ctx context.Context) error

	// Close releases destination resources.
	Close() error
}

// Transform rewrites a batch. Transforms must not mutate the input batch;
// they return a new batch (which may share unmodified rows).
type Transform interface {
	// Name returns the transform type name for logging and metrics.
	Name() string

	// Apply transforms one batch.
	Apply(ctx context.Context, b *Batch) (*Batch, error)
}
