package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

// ErrMalformedRecord is returned by LinkPulled for a record whose fields
// cannot be decoded.
var ErrMalformedRecord = errors.New("malformed remote record")

// Reconciler ties local ids to server ids. Both methods expect db to be a
// transaction so that entity rows, foreign keys and outbox rows move
// together.
type Reconciler struct {
	repos repomanager.RepositoryManager
}

func NewReconciler(repos repomanager.RepositoryManager) *Reconciler {
	return &Reconciler{repos: repos}
}

// LinkCreated records that the server accepted the create of (kind,
// oldLocalID) as rec. The entity moves to its linked id, every reference to
// it is repointed, and queued items follow it. It returns the new local id.
func (r *Reconciler) LinkCreated(ctx context.Context, db dbx.DBTX, kind models.Kind, oldLocalID string, rec *models.RemoteRecord) (string, error) {
	newID := models.LinkedID(kind, rec.ID)
	ents := r.repos.Entities(db)
	ob := r.repos.Outbox(db)

	if oldLocalID == newID {
		if err := ents.MarkSynced(ctx, kind, newID, rec.UpdatedAt, nil); err != nil {
			return "", err
		}
	} else {
		// A missing row means the entity was deleted while its create was
		// in flight; the queued delete still needs the remote id below.
		if _, err := ents.Relink(ctx, kind, oldLocalID, newID, rec.ID, rec.UpdatedAt); err != nil {
			return "", err
		}
		if _, err := ents.RewriteReferences(ctx, kind, oldLocalID, newID); err != nil {
			return "", err
		}
	}

	if _, err := ob.Retarget(ctx, kind, oldLocalID, newID, rec.ID); err != nil {
		return "", err
	}
	own, err := ob.ListForEntity(ctx, kind, newID)
	if err != nil {
		return "", err
	}
	for _, it := range own {
		if err := unparkDependency(ctx, ob, it); err != nil {
			return "", err
		}
	}

	if oldLocalID == newID {
		return newID, nil
	}
	for _, dep := range kind.Dependents() {
		items, err := ob.ListByKind(ctx, dep)
		if err != nil {
			return "", err
		}
		for _, it := range items {
			if it.Payload == nil || !it.Payload.RewriteReference(kind, oldLocalID, newID) {
				continue
			}
			if err := ob.ReplacePayload(ctx, it.ID, it.Payload); err != nil {
				return "", err
			}
			if err := unparkDependency(ctx, ob, it); err != nil {
				return "", err
			}
		}
	}
	return newID, nil
}

// unparkDependency requeues an item that was parked only because an entity
// it needs had not reached the server yet.
func unparkDependency(ctx context.Context, ob outbox.Repository, it *models.OutboxItem) error {
	if !it.Parked || !strings.HasPrefix(it.LastError, reasonDependency) {
		return nil
	}
	return ob.SetParked(ctx, it.ID, false, "")
}

// LinkPulled stores a record received from the server under its
// deterministic local id, replacing whatever is there.
func (r *Reconciler) LinkPulled(ctx context.Context, db dbx.DBTX, kind models.Kind, rec *models.RemoteRecord) (string, error) {
	e, err := rec.Entity(kind)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	localID := e.SyncMeta().LocalID
	ents := r.repos.Entities(db)

	// A row may still sit under another local id for the same server
	// record; move it first so the remote id stays unique.
	existing, err := ents.GetByRemoteID(ctx, kind, rec.ID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return "", err
	case existing.SyncMeta().LocalID != localID:
		oldID := existing.SyncMeta().LocalID
		if _, err := ents.Relink(ctx, kind, oldID, localID, rec.ID, rec.UpdatedAt); err != nil {
			return "", err
		}
		if _, err := ents.RewriteReferences(ctx, kind, oldID, localID); err != nil {
			return "", err
		}
		if _, err := r.repos.Outbox(db).Retarget(ctx, kind, oldID, localID, rec.ID); err != nil {
			return "", err
		}
	}

	if err := ents.Upsert(ctx, e); err != nil {
		return "", err
	}
	return localID, nil
}
