package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

var ErrItemInFlight = errors.New("outbox item is being sent")

// Outbox is the durable queue of local mutations. Rows live in the outbox
// repository; which of them are currently being sent is tracked in memory,
// so an item can never stay stuck "in flight" across a crash.
type Outbox struct {
	repos repomanager.RepositoryManager
	now   func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewOutbox(repos repomanager.RepositoryManager) *Outbox {
	return &Outbox{
		repos:    repos,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Append queues item, collapsing it into what is already queued for the
// same entity where possible:
//
//   - an update merges into an unsent create or unsent update;
//   - a delete of an entity whose create is still unsent cancels the
//     create and its updates, leaving nothing to send;
//   - any other delete drops the unsent updates it supersedes.
//
// Items currently being sent are never touched. db is normally the
// transaction that also writes the entity.
func (o *Outbox) Append(ctx context.Context, db dbx.DBTX, item *models.OutboxItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = o.now().UTC()
	}

	repo := o.repos.Outbox(db)

	switch item.Op {
	case models.OpCreate:
		return repo.Insert(ctx, item)

	case models.OpUpdate:
		queued, err := o.unsent(ctx, db, item.Kind, item.LocalID)
		if err != nil {
			return err
		}
		// Latest first; a queued delete means the entity is gone and
		// nothing before it may absorb the edit.
		for i := len(queued) - 1; i >= 0; i-- {
			q := queued[i]
			if q.Op == models.OpDelete {
				break
			}
			if q.Payload == nil {
				q.Payload = item.Payload
			} else if item.Payload != nil {
				if err := q.Payload.Merge(item.Payload); err != nil {
					return err
				}
			}
			if err := repo.UpdatePayload(ctx, q.ID, q.Payload, item.EnqueuedAt); err != nil {
				return err
			}
			item.ID = q.ID
			item.Seq = q.Seq
			item.Payload = q.Payload
			return nil
		}
		return repo.Insert(ctx, item)

	case models.OpDelete:
		queued, err := o.unsent(ctx, db, item.Kind, item.LocalID)
		if err != nil {
			return err
		}
		cancelled := false
		for _, q := range queued {
			switch q.Op {
			case models.OpCreate:
				cancelled = true
			case models.OpUpdate:
			default:
				continue
			}
			if err := repo.Delete(ctx, q.ID); err != nil {
				return err
			}
		}
		if cancelled {
			return nil
		}
		return repo.Insert(ctx, item)
	}
	return fmt.Errorf("unknown outbox operation %q", item.Op)
}

func (o *Outbox) unsent(ctx context.Context, db dbx.DBTX, kind models.Kind, localID string) ([]*models.OutboxItem, error) {
	items, err := o.repos.Outbox(db).ListForEntity(ctx, kind, localID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	out := items[:0]
	for _, it := range items {
		if _, busy := o.inFlight[it.ID]; !busy {
			out = append(out, it)
		}
	}
	return out, nil
}

// Drain returns the pending, non-parked items that are not already being
// sent, oldest first, and marks them in flight. Every drained id must be
// passed to Remove or Release.
func (o *Outbox) Drain(ctx context.Context, db dbx.DBTX) ([]*models.OutboxItem, error) {
	items, err := o.repos.Outbox(db).ListPending(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*models.OutboxItem, 0, len(items))
	for _, it := range items {
		if _, busy := o.inFlight[it.ID]; busy {
			continue
		}
		o.inFlight[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out, nil
}

// Release hands drained items back to the pending pool.
func (o *Outbox) Release(ids ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		delete(o.inFlight, id)
	}
}

func (o *Outbox) InFlight(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[id]
	return ok
}

// Remove deletes a confirmed item. The in-flight mark is cleared by Release
// once the surrounding transaction has committed.
func (o *Outbox) Remove(ctx context.Context, db dbx.DBTX, id string) error {
	return o.repos.Outbox(db).Delete(ctx, id)
}

// FailureRetry records a failed attempt and returns the attempt count.
func (o *Outbox) FailureRetry(ctx context.Context, db dbx.DBTX, id string, cause error) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return o.repos.Outbox(db).IncrementAttempt(ctx, id, msg)
}

func (o *Outbox) Park(ctx context.Context, db dbx.DBTX, id, reason string) error {
	return o.repos.Outbox(db).SetParked(ctx, id, true, reason)
}

// Unpark puts a parked item back in the queue with a fresh attempt count.
func (o *Outbox) Unpark(ctx context.Context, db dbx.DBTX, id string) error {
	return o.repos.Outbox(db).SetParked(ctx, id, false, "")
}

// Discard drops an item for good. A create is simply forgotten and the
// entity stays local-only. For an entity the server already knows, the
// local copy is given back to the server: once nothing else is queued for
// it, its modification time is set just before the last confirmed server
// stamp and the kind's checkpoint is rewound, so the next pull replaces it
// with the current server version, or deletes it for a tombstone. db should
// be a transaction.
func (o *Outbox) Discard(ctx context.Context, db dbx.DBTX, id string) error {
	if o.InFlight(id) {
		return ErrItemInFlight
	}
	repo := o.repos.Outbox(db)
	item, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, id); err != nil {
		return err
	}
	if item.Op == models.OpCreate {
		return nil
	}

	remaining, err := repo.CountForEntity(ctx, item.Kind, item.LocalID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	local, err := o.repos.Entities(db).Get(ctx, item.Kind, item.LocalID)
	if errors.Is(err, common.ErrorNotFound) {
		// A discarded delete: the row is gone, so only a full pull of the
		// kind brings it back.
		return o.repos.Metadata(db).RewindCheckpoint(ctx, item.Kind, nil)
	}
	if err != nil {
		return err
	}

	meta := local.SyncMeta()
	if meta.RemoteID == nil || meta.UpdatedAt == nil {
		return o.repos.Metadata(db).RewindCheckpoint(ctx, item.Kind, nil)
	}

	// Server stamps carry microseconds.
	before := meta.UpdatedAt.Add(-time.Microsecond)
	if err := o.repos.Entities(db).MarkSynced(ctx, item.Kind, item.LocalID, *meta.UpdatedAt, &before); err != nil {
		return err
	}
	return o.repos.Metadata(db).RewindCheckpoint(ctx, item.Kind, &before)
}

// HasPending reports whether anything, parked items included, is queued
// for the entity.
func (o *Outbox) HasPending(ctx context.Context, db dbx.DBTX, kind models.Kind, localID string) (bool, error) {
	n, err := o.repos.Outbox(db).CountForEntity(ctx, kind, localID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (o *Outbox) PendingCount(ctx context.Context, db dbx.DBTX) (pending int, parked int, err error) {
	return o.repos.Outbox(db).Count(ctx)
}

func (o *Outbox) ListParked(ctx context.Context, db dbx.DBTX) ([]*models.OutboxItem, error) {
	return o.repos.Outbox(db).ListParked(ctx)
}

// Get returns the current state of a queued item, or common.ErrorNotFound.
func (o *Outbox) Get(ctx context.Context, db dbx.DBTX, id string) (*models.OutboxItem, error) {
	return o.repos.Outbox(db).Get(ctx, id)
}

// hasCreate reports whether a create for the entity is still queued.
func (o *Outbox) hasCreate(ctx context.Context, db dbx.DBTX, kind models.Kind, localID string) (bool, error) {
	items, err := o.repos.Outbox(db).ListForEntity(ctx, kind, localID)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it.Op == models.OpCreate {
			return true, nil
		}
	}
	return false, nil
}
