package records

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/planbook/internal/server/models"
)

type Repository interface {
	// LockCollection serializes writers of one (user, kind) collection
	// until the surrounding transaction ends, so stamps commit in the
	// order they were handed out.
	LockCollection(ctx context.Context, userID string, kind models.Kind) error
	// Create stores r and fills in its ID and timestamps.
	Create(ctx context.Context, r *models.Record) error
	// Update merges patch into the fields of a live record.
	Update(ctx context.Context, userID string, kind models.Kind, id int64, patch json.RawMessage) (*models.Record, error)
	// Delete turns a record into a tombstone. Deleting a tombstone is a no-op.
	Delete(ctx context.Context, userID string, kind models.Kind, id int64) error
	// ListSince returns records updated strictly after since (all when nil),
	// tombstones included, oldest first.
	ListSince(ctx context.Context, userID string, kind models.Kind, since *time.Time) ([]*models.Record, error)
	// Exists reports whether a live record exists.
	Exists(ctx context.Context, userID string, kind models.Kind, id int64) (bool, error)
}
