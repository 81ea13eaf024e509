// Package connectors provides the built-in source and destination
// connectors and the registry that builds them from recipe configuration.
//
// Sources read rows in batches and honor cursor-based incremental loads
// where the backing store supports it. Destinations write batches under a
// configured write mode: append, overwrite, or merge where supported.
//
// Built-in connectors:
//
//   - csv: local CSV files (source and destination)
//   - sqlite: SQLite tables (source and destination)
//   - filestore: csv or jsonl files on local disk or SFTP, with optional
//     gzip or zstd compression selected by file extension
//   - api: paginated JSON REST APIs (source only)
//
// Connectors return engine.PipelineError values so the engine can decide
// what is retryable.
package connectors
