package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDs(t *testing.T) {
	id := NewLocalID(KindTask)
	assert.True(t, strings.HasPrefix(id, "t:local:"))
	assert.True(t, IsEphemeralID(id))
	_, ok := ParseLinkedID(id)
	assert.False(t, ok)

	linked := LinkedID(KindTask, 7)
	assert.Equal(t, "t:server:7", linked)
	assert.Equal(t, "c:server:7", LinkedID(KindCategory, 7))
	assert.Equal(t, "b:server:7", LinkedID(KindTimeBlock, 7))
	assert.False(t, IsEphemeralID(linked))

	n, ok := ParseLinkedID(linked)
	require.True(t, ok)
	assert.EqualValues(t, 7, n)

	for _, bad := range []string{"", "t:server:", "t:server:x", "t:server:-1", "t:local:7"} {
		_, ok := ParseLinkedID(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("time_block")
	require.NoError(t, err)
	assert.Equal(t, KindTimeBlock, k)
	assert.Equal(t, "time-blocks", k.Collection())

	_, err = ParseKind("note")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestTaskPatch_MergeLastValueWins(t *testing.T) {
	base := &TaskPatch{Title: ptr("A"), Done: ptr(false)}
	require.NoError(t, base.Merge(&TaskPatch{Title: ptr("B")}))
	require.NoError(t, base.Merge(&TaskPatch{Title: ptr("C"), Priority: ptr(2)}))

	assert.Equal(t, "C", *base.Title)
	assert.False(t, *base.Done)
	assert.Equal(t, 2, *base.Priority)

	err := base.Merge(&CategoryPatch{Name: ptr("x")})
	require.ErrorIs(t, err, ErrPatchKindMismatch)
}

func TestTaskPatch_MergeDoesNotAlias(t *testing.T) {
	title := "A"
	newer := &TaskPatch{Title: &title}
	base := &TaskPatch{}
	require.NoError(t, base.Merge(newer))
	title = "changed"
	assert.Equal(t, "A", *base.Title)
}

func TestTaskPatch_Apply(t *testing.T) {
	due := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	task := &Task{Title: "old", DueAt: &due, CategoryID: "c:server:1"}

	p := &TaskPatch{Title: ptr("new"), DueAt: ptr(time.Time{}), CategoryID: ptr("")}
	require.NoError(t, p.Apply(task))

	assert.Equal(t, "new", task.Title)
	assert.Nil(t, task.DueAt)
	assert.Empty(t, task.CategoryID)

	require.ErrorIs(t, p.Apply(&Category{}), ErrPatchKindMismatch)
}

func TestPatch_RewriteReference(t *testing.T) {
	p := &TaskPatch{CategoryID: ptr("c:local:1")}
	assert.False(t, p.RewriteReference(KindTask, "c:local:1", "c:server:5"))
	assert.True(t, p.RewriteReference(KindCategory, "c:local:1", "c:server:5"))
	assert.Equal(t, "c:server:5", *p.CategoryID)
	assert.Equal(t, []Ref{{Kind: KindCategory, LocalID: "c:server:5"}}, p.References())

	b := &TimeBlockPatch{TaskID: ptr("t:local:1")}
	assert.True(t, b.RewriteReference(KindTask, "t:local:1", "t:server:9"))
	assert.False(t, b.RewriteReference(KindTask, "t:local:1", "t:server:9"))
}

func TestTaskPatch_WireTranslatesReferences(t *testing.T) {
	p := &TaskPatch{Title: ptr("A"), CategoryID: ptr("c:local:1")}

	body, err := p.Wire(func(k Kind, id string) (int64, error) {
		assert.Equal(t, KindCategory, k)
		assert.Equal(t, "c:local:1", id)
		return 12, nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"A","category_id":12}`, string(body))

	boom := errors.New("not synced")
	_, err = p.Wire(func(Kind, string) (int64, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	cleared := &TaskPatch{CategoryID: ptr("")}
	body, err = cleared.Wire(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"category_id":0}`, string(body))
}

func TestSnapshotPatch_RoundTripsThroughEncode(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	block := &TimeBlock{TaskID: "t:server:3", Label: "focus", StartsAt: start, EndsAt: start.Add(time.Hour)}

	p, err := SnapshotPatch(block)
	require.NoError(t, err)

	data, err := EncodePatch(p)
	require.NoError(t, err)
	restored, err := DecodePatch(KindTimeBlock, data)
	require.NoError(t, err)

	var got TimeBlock
	require.NoError(t, restored.Apply(&got))
	assert.Equal(t, block.TaskID, got.TaskID)
	assert.Equal(t, block.Label, got.Label)
	assert.True(t, block.StartsAt.Equal(got.StartsAt))
	assert.True(t, block.EndsAt.Equal(got.EndsAt))

	_, err = DecodePatch(Kind("x"), data)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestRemoteRecord_Entity(t *testing.T) {
	updated := time.Date(2025, 5, 1, 12, 0, 0, 123000, time.UTC)
	rec := &RemoteRecord{
		ID:        7,
		Kind:      KindTask,
		Fields:    json.RawMessage(`{"title":"A","done":true,"category_id":3}`),
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}

	e, err := rec.Entity(KindTask)
	require.NoError(t, err)

	task := e.(*Task)
	assert.Equal(t, "t:server:7", task.LocalID)
	assert.EqualValues(t, 7, *task.RemoteID)
	assert.Equal(t, "A", task.Title)
	assert.True(t, task.Done)
	assert.Equal(t, "c:server:3", task.CategoryID)
	assert.True(t, task.ModifiedAt.Equal(updated))
	assert.True(t, task.UpdatedAt.Equal(updated))
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, (&Task{}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&Category{}).Validate(), ErrValidation)

	now := time.Now()
	assert.ErrorIs(t, (&TimeBlock{StartsAt: now, EndsAt: now}).Validate(), ErrValidation)
	assert.NoError(t, (&TimeBlock{StartsAt: now, EndsAt: now.Add(time.Minute)}).Validate())
}
