package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

// pull fetches every kind changed since its checkpoint, referenced kinds
// first so that incoming references already resolve.
func (c *Coordinator) pull(ctx context.Context, res *Result) error {
	for _, kind := range models.Kinds {
		if err := ctx.Err(); err != nil {
			return &TransportError{Err: err}
		}

		since, err := c.repos.Metadata(c.db).Checkpoint(ctx, kind)
		if err != nil {
			return localStore(err)
		}

		recs, err := call(ctx, c.opts.RequestTimeout, func(ctx context.Context) ([]*models.RemoteRecord, error) {
			return c.remote.ListSince(ctx, kind, since)
		})
		if err != nil {
			return Classify(err)
		}

		applied, err := c.applyPulled(ctx, kind, since, recs)
		if err != nil {
			return err
		}
		res.Pulled += len(recs)
		res.Applied += applied

		c.logger.Debug(ctx, "pulled changes", "kind", kind, "received", len(recs), "applied", applied)
	}
	return nil
}

// applyPulled merges one page of records and advances the checkpoint in a
// single transaction. The checkpoint covers skipped records too: they were
// seen, and the local side wins for them.
func (c *Coordinator) applyPulled(ctx context.Context, kind models.Kind, since *time.Time, recs []*models.RemoteRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	applied := 0
	err := c.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		ents := c.repos.Entities(tx)

		var checkpoint time.Time
		if since != nil {
			checkpoint = *since
		}

		for _, rec := range recs {
			if rec.UpdatedAt.After(checkpoint) {
				checkpoint = rec.UpdatedAt
			}

			local, err := ents.GetByRemoteID(ctx, kind, rec.ID)
			if errors.Is(err, common.ErrorNotFound) {
				local = nil
			} else if err != nil {
				return err
			}

			if rec.Deleted && local == nil {
				continue
			}

			localID := models.LinkedID(kind, rec.ID)
			if local != nil {
				localID = local.SyncMeta().LocalID
			}
			pending, err := c.outbox.HasPending(ctx, tx, kind, localID)
			if err != nil {
				return err
			}

			decision := Resolve(local, rec, pending)
			c.logger.Debug(ctx, "resolved remote record", "kind", kind, "remote_id", rec.ID,
				"deleted", rec.Deleted, "pending", pending, "decision", decision.String())
			if decision == Skip {
				continue
			}

			if rec.Deleted {
				// The server already holds the deletion; dependents are
				// cleared locally and nothing is queued for them.
				detached, err := ents.DetachReferences(ctx, kind, localID)
				if err != nil {
					return err
				}
				if detached > 0 {
					c.logger.Debug(ctx, "detached dependents of pulled tombstone", "kind", kind,
						"local_id", localID, "count", detached)
				}
				if _, err := ents.Delete(ctx, kind, localID); err != nil {
					return err
				}
				applied++
				continue
			}

			if _, err := c.reconciler.LinkPulled(ctx, tx, kind, rec); err != nil {
				if errors.Is(err, ErrMalformedRecord) {
					c.logger.Warn(ctx, "skipping malformed record", "kind", kind, "remote_id", rec.ID, "error", err)
					continue
				}
				return err
			}
			applied++
		}

		return c.repos.Metadata(tx).AdvanceCheckpoint(ctx, kind, checkpoint)
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}
