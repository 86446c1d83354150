// Package cli provides the interactive planbook command-line client.
//
// It wires configuration, the local SQLite store, the sync engine and an
// interactive REPL that keeps working while the server is unreachable.
// Every edit is stored locally first and pushed by the background
// scheduler; the connectivity watcher triggers a pass as soon as the
// server comes back.
//
// Key features:
//   - Categories, tasks and time blocks: list / add / edit / delete
//   - Manual sync and sync status
//   - Parked changes: list, retry, discard
//   - Access token management
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App, StartOnlineStatusWatcher and runREPL for details.
package cli
