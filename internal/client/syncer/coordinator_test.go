package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/planbook/internal/client/client"
	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
	"github.com/dmitrijs2005/planbook/internal/logging"
)

func TestSyncOnce_OfflineCreateIsLinkedOnReconnect(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.remote.nextID = 6
	h.remote.pingErr = fmt.Errorf("%w: connection refused", client.ErrUnavailable)

	localID := h.create(t, &models.Task{Title: "Buy milk"})
	assert.True(t, models.IsEphemeralID(localID))

	res := h.coord.SyncOnce(ctx)
	assert.Equal(t, OutcomeOffline, res.Status)
	assert.True(t, res.Retryable)
	require.Len(t, h.pending(t), 1)
	assert.Zero(t, h.remote.callCount("create:task"), "nothing is sent while offline")

	st, err := h.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOffline, st.State)
	assert.False(t, st.Online)

	h.remote.pingErr = nil
	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Pushed)

	tasks := h.list(t, models.KindTask)
	require.Len(t, tasks, 1, "push then pull must not duplicate the task")
	task := tasks[0].(*models.Task)
	assert.Equal(t, "t:server:7", task.LocalID)
	require.NotNil(t, task.RemoteID)
	assert.EqualValues(t, 7, *task.RemoteID)
	assert.Equal(t, "Buy milk", task.Title)
	assert.Empty(t, h.pending(t))

	_, err = h.repos.Entities(h.db).Get(ctx, models.KindTask, localID)
	require.ErrorIs(t, err, common.ErrorNotFound)

	st, err = h.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, st.Online)
	require.NotNil(t, st.LastSyncedAt)
	assert.Empty(t, st.LastError)
}

func TestSyncOnce_TransportErrorThenSuccess(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.create(t, &models.Category{Name: "Home"})
	h.remote.failNext("create", models.KindCategory, fmt.Errorf("%w: status 503", client.ErrUnavailable))

	res := h.coord.SyncOnce(ctx)
	assert.Equal(t, OutcomeError, res.Status)
	assert.True(t, res.Retryable)
	assert.Zero(t, h.remote.callCount("list:category"), "no pull after a failed push")

	items := h.pending(t)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].AttemptCount)
	assert.Contains(t, items[0].LastError, "503")

	st, err := h.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateError, st.State)
	assert.True(t, st.Retryable)

	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Empty(t, h.pending(t))
	assert.Equal(t, 1, h.remote.live(models.KindCategory))
	require.Len(t, h.list(t, models.KindCategory), 1)
}

func TestSyncOnce_PullIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	cat := h.remote.serverSide(t, models.KindCategory, `{"name":"Work"}`)
	h.remote.serverSide(t, models.KindTask, fmt.Sprintf(`{"title":"Report","category_id":%d}`, cat.ID))

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 2, res.Pulled)
	assert.Equal(t, 2, res.Applied)

	tasks := h.list(t, models.KindTask)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.LinkedID(models.KindCategory, cat.ID), tasks[0].(*models.Task).CategoryID)

	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Zero(t, res.Pulled, "checkpoint is strictly greater")

	// Forget the checkpoints: the same records arrive again and change nothing.
	for _, k := range models.Kinds {
		require.NoError(t, h.repos.Metadata(h.db).RewindCheckpoint(ctx, k, nil))
	}
	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 2, res.Pulled)
	assert.Zero(t, res.Applied)
	assert.Len(t, h.list(t, models.KindTask), 1)
	assert.Len(t, h.list(t, models.KindCategory), 1)
}

func TestSyncOnce_EchoOfOwnWriteIsNotReapplied(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.create(t, &models.Task{Title: "A"})
	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Pulled)
	assert.Zero(t, res.Applied)
	assert.Equal(t, 1, h.remote.live(models.KindTask))
}

func TestSyncOnce_ReferencesAreRewritten(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	catID := h.create(t, &models.Category{Name: "Work"})
	taskID := h.create(t, &models.Task{Title: "Report", CategoryID: catID})
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	h.create(t, &models.TimeBlock{TaskID: taskID, StartsAt: start, EndsAt: start.Add(time.Hour)})

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 3, res.Pushed)

	cats := h.list(t, models.KindCategory)
	require.Len(t, cats, 1)
	tasks := h.list(t, models.KindTask)
	require.Len(t, tasks, 1)
	blocks := h.list(t, models.KindTimeBlock)
	require.Len(t, blocks, 1)

	cat := cats[0].(*models.Category)
	task := tasks[0].(*models.Task)
	block := blocks[0].(*models.TimeBlock)
	assert.Equal(t, cat.LocalID, task.CategoryID)
	assert.Equal(t, task.LocalID, block.TaskID)

	var fields models.TaskFields
	require.NoError(t, json.Unmarshal(h.remote.record(models.KindTask, *task.RemoteID).Fields, &fields))
	require.NotNil(t, fields.CategoryID)
	assert.Equal(t, *cat.RemoteID, *fields.CategoryID)
}

func TestSyncOnce_UpdateQueuedWhileCreateInFlightGetsRemoteID(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	localID := h.create(t, &models.Task{Title: "v1"})

	// Simulate the create being on the wire when the user edits again.
	drained, err := h.outbox.Drain(ctx, h.db)
	require.NoError(t, err)
	require.Len(t, drained, 1)
	h.update(t, models.KindTask, localID, &models.TaskPatch{Title: str("v2")})
	require.Len(t, h.pending(t), 2, "an in-flight create does not absorb edits")
	h.outbox.Release(drained[0].ID)

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 2, res.Pushed)
	assert.Equal(t, 1, h.remote.callCount("update:task"))

	tasks := h.list(t, models.KindTask)
	require.Len(t, tasks, 1)
	assert.Equal(t, "v2", tasks[0].(*models.Task).Title)

	var fields models.TaskFields
	require.NoError(t, json.Unmarshal(h.remote.record(models.KindTask, 1).Fields, &fields))
	assert.Equal(t, "v2", *fields.Title)
}

func TestSyncOnce_DeleteOfSyncedEntity(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.create(t, &models.Task{Title: "A"})
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	tasks := h.list(t, models.KindTask)
	require.Len(t, tasks, 1)

	h.remove(t, models.KindTask, tasks[0].SyncMeta().LocalID)
	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Zero(t, h.remote.live(models.KindTask))
	assert.Empty(t, h.list(t, models.KindTask), "the tombstone echo keeps it deleted")
	assert.Empty(t, h.pending(t))
}

func TestSyncOnce_DeleteOfMissingRecordSucceeds(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id := int64(42)
	require.NoError(t, h.repos.Entities(h.db).Upsert(ctx, &models.Task{Meta: models.Meta{LocalID: "t:server:42", RemoteID: &id}, Title: "ghost"}))
	h.remove(t, models.KindTask, "t:server:42")

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Pushed)
	assert.Empty(t, h.pending(t))
}

func TestSyncOnce_CreateThenDeleteOfflineSendsNothing(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	localID := h.create(t, &models.Task{Title: "oops"})
	h.update(t, models.KindTask, localID, &models.TaskPatch{Done: new(bool)})
	h.remove(t, models.KindTask, localID)
	assert.Empty(t, h.pending(t))

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Zero(t, res.Pushed)
	assert.Zero(t, h.remote.callCount("create:task"))
}

func TestSyncOnce_RejectionParksAndContinues(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.create(t, &models.Category{Name: "bad"})
	h.create(t, &models.Category{Name: "good"})
	h.remote.failNext("create", models.KindCategory,
		&client.APIError{StatusCode: 400, Code: "invalid_request", Message: "name is reserved"})

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.Parked)

	parked := h.parked(t)
	require.Len(t, parked, 1)
	assert.Contains(t, parked[0].LastError, "name is reserved")

	st, err := h.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Parked)
	assert.Zero(t, st.Pending)

	// Retrying the parked item sends it again.
	require.NoError(t, h.outbox.Unpark(ctx, h.db, parked[0].ID))
	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Pushed)
	assert.Empty(t, h.parked(t))
	assert.Equal(t, 2, h.remote.live(models.KindCategory))
}

func TestSyncOnce_DependentsOfParkedCreateAreParkedAndReleased(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	catID := h.create(t, &models.Category{Name: "Work"})
	h.create(t, &models.Task{Title: "Report", CategoryID: catID})
	h.remote.failNext("create", models.KindCategory, &client.APIError{StatusCode: 422, Code: "invalid_request"})

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 2, res.Parked)
	assert.Zero(t, h.remote.callCount("create:task"), "a task is never sent with a dangling category")

	parked := h.parked(t)
	require.Len(t, parked, 2)
	assert.Contains(t, parked[1].LastError, reasonDependency)

	require.NoError(t, h.outbox.Unpark(ctx, h.db, parked[0].ID))
	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Pushed)
	assert.Len(t, h.pending(t), 1, "linking the category requeues the task")

	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Pushed)
	assert.Empty(t, h.pending(t))
	assert.Empty(t, h.parked(t))
}

func TestSyncOnce_ReferenceToLaterCreateIsHeldNotParked(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	taskID := h.create(t, &models.Task{Title: "Report"})
	catID := h.create(t, &models.Category{Name: "Work"})
	// Merges into the task's create, which is older than the category's.
	h.update(t, models.KindTask, taskID, &models.TaskPatch{CategoryID: &catID})
	require.Len(t, h.pending(t), 2)

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 2, res.Pushed)
	assert.Zero(t, res.Parked)

	tasks := h.list(t, models.KindTask)
	require.Len(t, tasks, 1)
	cats := h.list(t, models.KindCategory)
	require.Len(t, cats, 1)
	assert.Equal(t, cats[0].SyncMeta().LocalID, tasks[0].(*models.Task).CategoryID)
}

func TestSyncOnce_MaxAttemptsParks(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 2})
	ctx := context.Background()

	h.create(t, &models.Task{Title: "A"})
	for range 2 {
		h.remote.failNext("create", models.KindTask, client.ErrUnavailable)
	}

	res := h.coord.SyncOnce(ctx)
	assert.Equal(t, OutcomeError, res.Status)
	assert.Empty(t, h.parked(t))

	res = h.coord.SyncOnce(ctx)
	assert.Equal(t, OutcomeError, res.Status)
	assert.Equal(t, 1, res.Parked)
	parked := h.parked(t)
	require.Len(t, parked, 1)
	assert.Contains(t, parked[0].LastError, "gave up after 2 attempts")
}

func TestSyncOnce_UnauthorizedIsNotRetryable(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.create(t, &models.Task{Title: "A"})
	h.remote.failNext("create", models.KindTask, fmt.Errorf("%w: token expired", client.ErrUnauthorized))

	res := h.coord.SyncOnce(ctx)
	assert.Equal(t, OutcomeError, res.Status)
	assert.False(t, res.Retryable)

	items := h.pending(t)
	require.Len(t, items, 1)
	assert.Zero(t, items[0].AttemptCount)
	assert.False(t, items[0].Parked)
}

func TestSyncOnce_LastWriterWins(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	rec := h.remote.serverSide(t, models.KindTask, `{"title":"server v1"}`)
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	localID := models.LinkedID(models.KindTask, rec.ID)

	// Another device edits; nothing is pending here, the newer remote wins.
	_, err := h.remote.Update(ctx, models.KindTask, rec.ID, json.RawMessage(`{"title":"server v2"}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	assert.Equal(t, "server v2", h.get(t, models.KindTask, localID).(*models.Task).Title)

	// A local edit is pushed before pulling, so it lands last and stays.
	h.update(t, models.KindTask, localID, &models.TaskPatch{Title: str("local v3")})
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	assert.Equal(t, "local v3", h.get(t, models.KindTask, localID).(*models.Task).Title)

	var fields models.TaskFields
	require.NoError(t, json.Unmarshal(h.remote.record(models.KindTask, rec.ID).Fields, &fields))
	assert.Equal(t, "local v3", *fields.Title)
}

func TestSyncOnce_PendingLocalChangeSurvivesPull(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	rec := h.remote.serverSide(t, models.KindTask, `{"title":"v1"}`)
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	localID := models.LinkedID(models.KindTask, rec.ID)

	_, err := h.remote.Update(ctx, models.KindTask, rec.ID, json.RawMessage(`{"notes":"remote"}`))
	require.NoError(t, err)
	h.update(t, models.KindTask, localID, &models.TaskPatch{Title: str("mine")})
	h.remote.failNext("update", models.KindTask, &client.APIError{StatusCode: 409, Code: "conflict"})

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Parked)
	assert.Equal(t, "mine", h.get(t, models.KindTask, localID).(*models.Task).Title,
		"a parked local edit still wins over the pulled record")
}

func TestSyncOnce_TombstoneDeletesLocalCopy(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	rec := h.remote.serverSide(t, models.KindCategory, `{"name":"old"}`)
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	require.Len(t, h.list(t, models.KindCategory), 1)

	require.NoError(t, h.remote.Delete(ctx, models.KindCategory, rec.ID))
	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, h.list(t, models.KindCategory))
}

func TestDiscard_ParkedEditOfDeletedRecordFollowsTombstone(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	rec := h.remote.serverSide(t, models.KindCategory, `{"name":"errands"}`)
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	localID := models.LinkedID(models.KindCategory, rec.ID)

	// Another device deletes the category while this one renames it.
	require.NoError(t, h.remote.Delete(ctx, models.KindCategory, rec.ID))
	h.update(t, models.KindCategory, localID, &models.CategoryPatch{Name: str("chores")})

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Parked)
	assert.Len(t, h.list(t, models.KindCategory), 1, "the parked edit holds off the tombstone")

	parked := h.parked(t)
	require.Len(t, parked, 1)
	require.NoError(t, dbx.WithTx(ctx, h.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return h.outbox.Discard(ctx, tx, parked[0].ID)
	}))

	for i := 0; i < 3; i++ {
		res = h.coord.SyncOnce(ctx)
		require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	}
	assert.Empty(t, h.list(t, models.KindCategory))
	assert.Empty(t, h.pending(t))
	assert.Empty(t, h.parked(t))
	assert.True(t, h.remote.record(models.KindCategory, rec.ID).Deleted)
}

func TestDiscard_ParkedEditIsRevertedToServerCopy(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	rec := h.remote.serverSide(t, models.KindTask, `{"title":"server"}`)
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	localID := models.LinkedID(models.KindTask, rec.ID)

	h.update(t, models.KindTask, localID, &models.TaskPatch{Title: str("rejected")})
	h.remote.failNext("update", models.KindTask, &client.APIError{StatusCode: 400, Code: "invalid_request"})
	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	require.Equal(t, 1, res.Parked)

	parked := h.parked(t)
	require.Len(t, parked, 1)
	require.NoError(t, dbx.WithTx(ctx, h.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return h.outbox.Discard(ctx, tx, parked[0].ID)
	}))

	cp, err := h.repos.Metadata(h.db).Checkpoint(ctx, models.KindTask)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Before(rec.UpdatedAt), "checkpoint rewound below the last confirmed stamp")

	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, "server", h.get(t, models.KindTask, localID).(*models.Task).Title)
	assert.Equal(t, 1, h.remote.callCount("update:task"), "the discarded edit is never resent")
}

func TestDiscard_ParkedDeleteRestoresEntity(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	rec := h.remote.serverSide(t, models.KindTask, `{"title":"keep me"}`)
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	localID := models.LinkedID(models.KindTask, rec.ID)

	h.remove(t, models.KindTask, localID)
	h.remote.failNext("delete", models.KindTask, &client.APIError{StatusCode: 403, Code: "forbidden"})
	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	require.Equal(t, 1, res.Parked)
	assert.Empty(t, h.list(t, models.KindTask))

	parked := h.parked(t)
	require.Len(t, parked, 1)
	require.NoError(t, dbx.WithTx(ctx, h.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return h.outbox.Discard(ctx, tx, parked[0].ID)
	}))

	cp, err := h.repos.Metadata(h.db).Checkpoint(ctx, models.KindTask)
	require.NoError(t, err)
	assert.Nil(t, cp)

	res = h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, "keep me", h.get(t, models.KindTask, localID).(*models.Task).Title)
}

func TestSyncOnce_TombstoneDetachesDependents(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	cat := h.remote.serverSide(t, models.KindCategory, `{"name":"garden"}`)
	task := h.remote.serverSide(t, models.KindTask, fmt.Sprintf(`{"title":"mow","category_id":%d}`, cat.ID))
	block := h.remote.serverSide(t, models.KindTimeBlock,
		fmt.Sprintf(`{"task_id":%d,"starts_at":"2025-01-01T09:00:00Z","ends_at":"2025-01-01T10:00:00Z"}`, task.ID))
	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)

	taskID := models.LinkedID(models.KindTask, task.ID)
	blockID := models.LinkedID(models.KindTimeBlock, block.ID)
	require.Equal(t, models.LinkedID(models.KindCategory, cat.ID), h.get(t, models.KindTask, taskID).(*models.Task).CategoryID)

	require.NoError(t, h.remote.Delete(ctx, models.KindCategory, cat.ID))
	require.NoError(t, h.remote.Delete(ctx, models.KindTask, task.ID))

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 2, res.Applied)
	assert.Empty(t, h.list(t, models.KindCategory))
	assert.Empty(t, h.list(t, models.KindTask))
	assert.Empty(t, h.get(t, models.KindTimeBlock, blockID).(*models.TimeBlock).TaskID)
	assert.Empty(t, h.pending(t), "detaching queues nothing")
}

func TestSyncOnce_UnknownTombstoneIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	rec := h.remote.serverSide(t, models.KindCategory, `{"name":"short lived"}`)
	require.NoError(t, h.remote.Delete(ctx, models.KindCategory, rec.ID))

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Pulled)
	assert.Zero(t, res.Applied)
	assert.Empty(t, h.list(t, models.KindCategory))

	cp, err := h.repos.Metadata(h.db).Checkpoint(ctx, models.KindCategory)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(h.remote.record(models.KindCategory, rec.ID).UpdatedAt))
}

func TestSyncOnce_MalformedRecordIsSkipped(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.remote.serverSide(t, models.KindTask, `{"title":42}`)
	h.remote.serverSide(t, models.KindTask, `{"title":"fine"}`)

	res := h.coord.SyncOnce(ctx)
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Equal(t, 2, res.Pulled)
	assert.Equal(t, 1, res.Applied)
	assert.Len(t, h.list(t, models.KindTask), 1)
}

func TestSyncOnce_ConcurrentTriggersShareOnePass(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.remote.pingHook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = h.coord.SyncOnce(ctx)
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = h.coord.SyncOnce(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, h.remote.callCount("ping"))
	assert.True(t, results[0].Shared)
	assert.True(t, results[1].Shared)
	assert.Equal(t, results[0].StartedAt, results[1].StartedAt)
}

func TestSyncOnce_CancelledPassKeepsItems(t *testing.T) {
	h := newHarness(t, Options{})

	h.create(t, &models.Task{Title: "A"})
	ctx, cancel := context.WithCancel(context.Background())
	h.remote.pingHook = cancel

	res := h.coord.SyncOnce(ctx)
	assert.Equal(t, OutcomeError, res.Status)
	assert.True(t, res.Retryable)

	items := h.pending(t)
	require.Len(t, items, 1)
	assert.False(t, h.outbox.InFlight(items[0].ID))

	h.remote.pingHook = nil
	res = h.coord.SyncOnce(context.Background())
	require.Equal(t, OutcomeSuccess, res.Status, res.Error)
	assert.Empty(t, h.pending(t))
}

type panickingRemote struct{ client.Client }

func (panickingRemote) Ping(context.Context) error { panic("boom") }

func TestSyncOnce_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, Options{})
	coord := NewCoordinator(h.db, h.repos, h.outbox, panickingRemote{}, logging.NewDiscardLogger(), Options{})

	res := coord.SyncOnce(context.Background())
	assert.Equal(t, OutcomeError, res.Status)
	assert.Contains(t, res.Error, "boom")
	assert.False(t, res.FinishedAt.IsZero())
}

func TestRestore_LoadsPersistedStatus(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	require.Equal(t, OutcomeSuccess, h.coord.SyncOnce(ctx).Status)
	h.remote.failNext("list", models.KindCategory, &client.APIError{StatusCode: 400, Code: "invalid_request", Message: "bad cursor"})
	require.Equal(t, OutcomeError, h.coord.SyncOnce(ctx).Status)

	fresh := NewCoordinator(h.db, h.repos, NewOutbox(h.repos), h.remote, logging.NewDiscardLogger(), Options{})
	require.NoError(t, fresh.Restore(ctx))

	st, err := fresh.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.LastError, "bad cursor")
	require.NotNil(t, st.LastSyncedAt)

	require.Equal(t, OutcomeSuccess, fresh.SyncOnce(ctx).Status)
	_, msg, err := h.repos.Metadata(h.db).LastSync(ctx)
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestSetConnectivity(t *testing.T) {
	h := newHarness(t, Options{})

	assert.False(t, h.coord.SetConnectivity(true), "already online")
	assert.False(t, h.coord.SetConnectivity(false))

	st, err := h.coord.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateOffline, st.State)

	assert.True(t, h.coord.SetConnectivity(true))
	st, err = h.coord.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, st.Online)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		rejection bool
	}{
		{name: "unavailable", err: client.ErrUnavailable, retryable: true},
		{name: "deadline", err: context.DeadlineExceeded, retryable: true},
		{name: "api error", err: &client.APIError{StatusCode: 409}, rejection: true},
		{name: "unauthorized", err: client.ErrUnauthorized},
		{name: "unknown", err: errors.New("weird"), retryable: true},
		{name: "local", err: &LocalStoreError{Err: errors.New("disk")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.ErrorIs(t, got, tt.err)
			assert.Equal(t, tt.retryable, IsRetryable(got))
			var rej *RejectionError
			assert.Equal(t, tt.rejection, errors.As(got, &rej))
		})
	}
	assert.NoError(t, Classify(nil))
}
