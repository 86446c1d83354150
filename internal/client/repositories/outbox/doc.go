// Package outbox persists queued local mutations (models.OutboxItem) in the
// client's SQLite database.
//
// Rows are ordered by an autoincrement seq, which is the replay order. The
// repository is storage only: merge-on-append and in-flight tracking live in
// the syncer package, which binds this repository to the same transaction as
// the entity write it accompanies.
package outbox
