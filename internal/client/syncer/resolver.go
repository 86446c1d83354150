package syncer

import "github.com/dmitrijs2005/planbook/internal/client/models"

// Decision is what a pull does with one remote record.
type Decision int

const (
	// Skip keeps the local state.
	Skip Decision = iota
	// Replace overwrites the local state with the remote record (or, for a
	// tombstone, deletes the local entity).
	Replace
)

func (d Decision) String() string {
	if d == Replace {
		return "replace"
	}
	return "skip"
}

// Resolve is last-writer-wins with pending local changes taking priority:
// a queued local mutation is still to be pushed and will overwrite the
// server anyway. Ties keep the local copy. Timestamps come from different
// clocks and no skew correction is attempted.
func Resolve(local models.Entity, remote *models.RemoteRecord, hasPending bool) Decision {
	if local == nil {
		return Replace
	}
	if hasPending {
		return Skip
	}
	if remote.UpdatedAt.After(local.SyncMeta().ModifiedAt) {
		return Replace
	}
	return Skip
}
