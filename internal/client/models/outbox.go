package models

import "time"

// Operation is the kind of mutation an outbox item replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// OutboxItem is one local mutation waiting to be confirmed by the server.
//
// Seq orders items first-in-first-out. RemoteID is known for updates and
// deletes of linked entities; it is stamped onto queued items when the
// entity's create is confirmed. Parked items were rejected by the server and
// are kept for the user to retry or discard.
type OutboxItem struct {
	ID       string
	Seq      int64
	Kind     Kind
	Op       Operation
	LocalID  string
	RemoteID *int64
	Payload  Patch

	EnqueuedAt   time.Time
	AttemptCount int
	Parked       bool
	LastError    string
}
