package entities

import (
	"context"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
)

type Repository interface {
	// Get returns common.ErrorNotFound when the entity does not exist.
	Get(ctx context.Context, kind models.Kind, localID string) (models.Entity, error)
	GetByRemoteID(ctx context.Context, kind models.Kind, remoteID int64) (models.Entity, error)
	List(ctx context.Context, kind models.Kind) ([]models.Entity, error)
	Upsert(ctx context.Context, e models.Entity) error
	Delete(ctx context.Context, kind models.Kind, localID string) (bool, error)

	// Relink moves the row at oldID to newID and stamps its remote identity.
	Relink(ctx context.Context, kind models.Kind, oldID, newID string, remoteID int64, updatedAt time.Time) (bool, error)
	// RewriteReferences repoints every foreign key aimed at (kind, oldID).
	RewriteReferences(ctx context.Context, kind models.Kind, oldID, newID string) (int64, error)
	// DetachReferences clears every foreign key aimed at (kind, localID) and
	// leaves the holders' sync metadata alone.
	DetachReferences(ctx context.Context, kind models.Kind, localID string) (int64, error)
	// MarkSynced records the server timestamp of a confirmed push. When
	// modifiedAt is non-nil it also becomes the local modification time.
	MarkSynced(ctx context.Context, kind models.Kind, localID string, updatedAt time.Time, modifiedAt *time.Time) error
}
