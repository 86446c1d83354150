// Package entities is the client-side Entity Store: SQLite persistence for
// tasks, categories and time blocks together with their sync metadata.
//
// # Data model
//
// Every kind has its own table keyed by local_id with a unique index on
// remote_id, so lookups by either identity are indexed. Timestamps are stored
// as Unix nanoseconds to keep last-writer-wins comparisons exact. References
// between entities (tasks.category_id, time_blocks.task_id) hold local ids and
// are soft: they are rewritten by Relink/RewriteReferences when an entity
// changes identity, never enforced by SQLite.
//
// # Transactions
//
// SQLiteRepository runs over dbx.DBTX. Callers that need an entity write to
// be atomic with an outbox change bind both repositories to the same *sql.Tx
// (see repomanager).
package entities
