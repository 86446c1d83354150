package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
)

type Client interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, kind models.Kind, fields json.RawMessage) (*models.RemoteRecord, error)
	Update(ctx context.Context, kind models.Kind, remoteID int64, fields json.RawMessage) (*models.RemoteRecord, error)
	Delete(ctx context.Context, kind models.Kind, remoteID int64) error
	// ListSince returns records of kind updated strictly after since (all
	// records when since is nil), tombstones included, oldest first.
	ListSince(ctx context.Context, kind models.Kind, since *time.Time) ([]*models.RemoteRecord, error)
}

// TokenSource yields the bearer token for the next request. An empty token
// sends the request unauthenticated.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken is a TokenSource that always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}
