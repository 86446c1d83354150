package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/planbook/internal/client/client"
	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

// errNeverSynced marks an entity the server has never heard of and whose
// create is no longer queued.
var errNeverSynced = errors.New("entity was never created on the server")

// reasonDependency prefixes the park reason of items waiting for another
// entity to reach the server. Linking that entity unparks them.
const reasonDependency = "dependency not synced"

// push replays the outbox in order. It returns nil only when every drained
// item was either confirmed or parked.
//
// An item whose reference points at an entity created later in the queue
// (possible when an edit was merged into an older create) is held back and
// tried again once the rest of the queue has been sent.
func (c *Coordinator) push(ctx context.Context, res *Result) error {
	items, err := c.outbox.Drain(ctx, c.db)
	if err != nil {
		return localStore(err)
	}
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	defer c.outbox.Release(ids...)

	queue := items
	for round := 0; len(queue) > 0; round++ {
		var held []*models.OutboxItem
		for _, drained := range queue {
			hold, err := c.pushQueued(ctx, drained.ID, round == 0, res)
			if err != nil {
				return err
			}
			if hold {
				held = append(held, drained)
			}
		}
		queue = held
	}
	return nil
}

// pushQueued sends one drained item. hold is true when the item waits on a
// dependency and mayHold allowed postponing it instead of parking it.
func (c *Coordinator) pushQueued(ctx context.Context, id string, mayHold bool, res *Result) (hold bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, &TransportError{Err: err}
	}

	// An earlier item in this pass may have relinked the entity or
	// rewritten this payload.
	item, err := c.outbox.Get(ctx, c.db, id)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, localStore(err)
	}
	if item.Parked {
		return false, nil
	}

	log := c.logger.With("item", item.ID, "kind", item.Kind, "op", item.Op, "local_id", item.LocalID)

	err = c.pushItem(ctx, item)
	if err == nil {
		res.Pushed++
		log.Debug(ctx, "outbox item confirmed")
		return false, nil
	}

	var (
		rej *RejectionError
		tr  *TransportError
	)
	switch {
	case errors.As(err, &rej):
		if mayHold && strings.HasPrefix(rej.Reason, reasonDependency) {
			log.Debug(ctx, "outbox item postponed", "reason", rej.Error())
			return true, nil
		}
		if perr := c.outbox.Park(ctx, c.db, item.ID, rej.Error()); perr != nil {
			return false, localStore(perr)
		}
		res.Parked++
		log.Warn(ctx, "outbox item parked", "reason", rej.Error())
		return false, nil

	case errors.As(err, &tr):
		if ctx.Err() != nil {
			return false, err
		}
		attempts, ferr := c.outbox.FailureRetry(ctx, c.db, item.ID, err)
		if ferr != nil {
			return false, localStore(ferr)
		}
		if c.opts.MaxAttempts > 0 && attempts >= c.opts.MaxAttempts {
			reason := fmt.Sprintf("gave up after %d attempts: %v", attempts, tr.Err)
			if perr := c.outbox.Park(ctx, c.db, item.ID, reason); perr != nil {
				return false, localStore(perr)
			}
			res.Parked++
			log.Warn(ctx, "outbox item parked", "reason", reason)
		}
		return false, err
	}
	return false, err
}

func (c *Coordinator) pushItem(ctx context.Context, item *models.OutboxItem) error {
	switch item.Op {
	case models.OpCreate:
		body, err := c.wireBody(ctx, item)
		if err != nil {
			return err
		}
		// TODO: send item.ID as an Idempotency-Key once the server keeps a
		// unique (user_id, key) column; a lost create response duplicates today.
		rec, err := call(ctx, c.opts.RequestTimeout, func(ctx context.Context) (*models.RemoteRecord, error) {
			return c.remote.Create(ctx, item.Kind, body)
		})
		if err != nil {
			return Classify(err)
		}
		return c.confirm(ctx, item, rec)

	case models.OpUpdate:
		remoteID, err := c.targetRemoteID(ctx, item)
		if errors.Is(err, errNeverSynced) {
			return &RejectionError{Reason: "cannot update", Err: err}
		}
		if err != nil {
			return err
		}
		body, err := c.wireBody(ctx, item)
		if err != nil {
			return err
		}
		rec, err := call(ctx, c.opts.RequestTimeout, func(ctx context.Context) (*models.RemoteRecord, error) {
			return c.remote.Update(ctx, item.Kind, remoteID, body)
		})
		if err != nil {
			return Classify(err)
		}
		return c.confirm(ctx, item, rec)

	case models.OpDelete:
		remoteID, err := c.targetRemoteID(ctx, item)
		switch {
		case errors.Is(err, errNeverSynced):
			// Nothing to delete on the server.
		case err != nil:
			return err
		default:
			_, err = call(ctx, c.opts.RequestTimeout, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, c.remote.Delete(ctx, item.Kind, remoteID)
			})
			if err != nil && !client.IsNotFound(err) {
				return Classify(err)
			}
		}
		return c.inTx(context.WithoutCancel(ctx), func(ctx context.Context, tx dbx.DBTX) error {
			return c.outbox.Remove(ctx, tx, item.ID)
		})
	}
	return &RejectionError{Reason: fmt.Sprintf("unknown operation %q", item.Op)}
}

// confirm applies a successful create or update: the entity is linked or
// stamped and the item removed in one transaction. It runs even if ctx was
// cancelled meanwhile, since the server has already applied the change.
func (c *Coordinator) confirm(ctx context.Context, item *models.OutboxItem, rec *models.RemoteRecord) error {
	return c.inTx(context.WithoutCancel(ctx), func(ctx context.Context, tx dbx.DBTX) error {
		localID := item.LocalID
		if item.Op == models.OpCreate {
			id, err := c.reconciler.LinkCreated(ctx, tx, item.Kind, item.LocalID, rec)
			if err != nil {
				return err
			}
			localID = id
		}
		if err := c.outbox.Remove(ctx, tx, item.ID); err != nil {
			return err
		}

		// With nothing else queued the local copy now equals the server's,
		// so the echo of this write on the next pull is a no-op.
		pending, err := c.outbox.HasPending(ctx, tx, item.Kind, localID)
		if err != nil {
			return err
		}
		modifiedAt := &rec.UpdatedAt
		if pending {
			modifiedAt = nil
		}
		return c.repos.Entities(tx).MarkSynced(ctx, item.Kind, localID, rec.UpdatedAt, modifiedAt)
	})
}

// targetRemoteID finds the server id an update or delete applies to.
func (c *Coordinator) targetRemoteID(ctx context.Context, item *models.OutboxItem) (int64, error) {
	if item.RemoteID != nil {
		return *item.RemoteID, nil
	}
	if id, ok := models.ParseLinkedID(item.LocalID); ok {
		return id, nil
	}

	queued, err := c.outbox.hasCreate(ctx, c.db, item.Kind, item.LocalID)
	if err != nil {
		return 0, localStore(err)
	}
	if queued {
		return 0, &RejectionError{Reason: fmt.Sprintf("%s: create of %s %s has not been accepted", reasonDependency, item.Kind, item.LocalID)}
	}
	return 0, errNeverSynced
}

// wireBody encodes the payload with references translated to server ids.
func (c *Coordinator) wireBody(ctx context.Context, item *models.OutboxItem) (json.RawMessage, error) {
	if item.Payload == nil {
		return json.RawMessage("{}"), nil
	}

	ents := c.repos.Entities(c.db)
	body, err := item.Payload.Wire(func(kind models.Kind, localID string) (int64, error) {
		if id, ok := models.ParseLinkedID(localID); ok {
			return id, nil
		}
		e, err := ents.Get(ctx, kind, localID)
		if errors.Is(err, common.ErrorNotFound) {
			// The referenced entity is gone locally; send no reference.
			return 0, nil
		}
		if err != nil {
			return 0, localStore(err)
		}
		if rid := e.SyncMeta().RemoteID; rid != nil {
			return *rid, nil
		}
		return 0, &RejectionError{Reason: fmt.Sprintf("%s: %s %s", reasonDependency, kind, localID)}
	})
	if err != nil {
		var rej *RejectionError
		var ls *LocalStoreError
		if errors.As(err, &rej) || errors.As(err, &ls) {
			return nil, err
		}
		return nil, &RejectionError{Reason: "cannot encode payload", Err: err}
	}
	return body, nil
}
