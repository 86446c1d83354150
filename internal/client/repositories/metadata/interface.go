// Package metadata keeps the sync engine's bookkeeping in the client
// database: one pull checkpoint per kind, the outcome of the last pass and
// the access token.
package metadata

import (
	"context"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
)

type Repository interface {
	// Checkpoint is the server UpdatedAt up to which kind has been pulled,
	// nil before the first pull.
	Checkpoint(ctx context.Context, kind models.Kind) (*time.Time, error)
	// AdvanceCheckpoint moves the checkpoint forward to t. A t at or before
	// the stored value is ignored, so the checkpoint never goes back.
	AdvanceCheckpoint(ctx context.Context, kind models.Kind, t time.Time) error
	// RewindCheckpoint moves the checkpoint back to t so the next pull sees
	// every record changed after it again. A nil t forgets the checkpoint.
	// A t after the stored value is ignored.
	RewindCheckpoint(ctx context.Context, kind models.Kind, t *time.Time) error

	// LastSync returns when the last pass succeeded and the error of the
	// last failed pass since then.
	LastSync(ctx context.Context) (at *time.Time, lastError string, err error)
	RecordSuccess(ctx context.Context, at time.Time) error
	RecordFailure(ctx context.Context, msg string) error

	// AccessToken returns "" when no token is stored.
	AccessToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
	DeleteAccessToken(ctx context.Context) error
}

const (
	keyLastSyncedAt = "sync.last_synced_at"
	keyLastError    = "sync.last_error"
	keyAccessToken  = "auth.access_token"
)

func checkpointKey(kind models.Kind) string {
	return "checkpoint." + string(kind)
}
