package outbox

import (
	"context"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
)

type Repository interface {
	Insert(ctx context.Context, item *models.OutboxItem) error
	// Get returns common.ErrorNotFound when the item is gone.
	Get(ctx context.Context, id string) (*models.OutboxItem, error)
	// UpdatePayload stores a merged payload from a new local edit; it also
	// unparks the item and resets its attempts.
	UpdatePayload(ctx context.Context, id string, payload models.Patch, enqueuedAt time.Time) error
	// ReplacePayload rewrites the payload and leaves everything else alone.
	ReplacePayload(ctx context.Context, id string, payload models.Patch) error
	Delete(ctx context.Context, id string) error

	// ListPending returns non-parked items in replay order.
	ListPending(ctx context.Context) ([]*models.OutboxItem, error)
	ListParked(ctx context.Context) ([]*models.OutboxItem, error)
	// ListForEntity returns every item (parked included) for one entity, in order.
	ListForEntity(ctx context.Context, kind models.Kind, localID string) ([]*models.OutboxItem, error)
	// ListByKind returns every item of kind, in order.
	ListByKind(ctx context.Context, kind models.Kind) ([]*models.OutboxItem, error)

	IncrementAttempt(ctx context.Context, id string, lastError string) (int, error)
	SetParked(ctx context.Context, id string, parked bool, reason string) error
	// Retarget moves items of (kind, oldLocalID) to newLocalID and stamps remoteID.
	Retarget(ctx context.Context, kind models.Kind, oldLocalID, newLocalID string, remoteID int64) (int64, error)

	CountForEntity(ctx context.Context, kind models.Kind, localID string) (int, error)
	Count(ctx context.Context) (pending int, parked int, err error)
}
