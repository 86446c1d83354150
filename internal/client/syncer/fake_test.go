package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/planbook/internal/client/client"
	"github.com/dmitrijs2005/planbook/internal/client/migrations"
	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/planbook/internal/dbx"
	"github.com/dmitrijs2005/planbook/internal/logging"
)

// fakeRemote is an in-memory server with the same semantics as the real
// one: ids from a counter, a ticking clock, partial updates merging top
// level keys, soft deletes and strictly-greater ListSince.
type fakeRemote struct {
	mu      sync.Mutex
	nextID  int64
	clock   time.Time
	records map[models.Kind]map[int64]*models.RemoteRecord

	pingErr  error
	pingHook func()
	// fail holds errors returned once by the next matching call, keyed
	// "op:kind".
	fail  map[string][]error
	calls []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		clock:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		records: make(map[models.Kind]map[int64]*models.RemoteRecord),
		fail:    make(map[string][]error),
	}
}

func (f *fakeRemote) failNext(op string, kind models.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := op + ":" + string(kind)
	f.fail[key] = append(f.fail[key], err)
}

func (f *fakeRemote) takeErr(op string, kind models.Kind) error {
	key := op + ":" + string(kind)
	f.calls = append(f.calls, key)
	errs := f.fail[key]
	if len(errs) == 0 {
		return nil
	}
	f.fail[key] = errs[1:]
	return errs[0]
}

func (f *fakeRemote) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeRemote) table(kind models.Kind) map[int64]*models.RemoteRecord {
	t, ok := f.records[kind]
	if !ok {
		t = make(map[int64]*models.RemoteRecord)
		f.records[kind] = t
	}
	return t
}

func cloneRecord(r *models.RemoteRecord) *models.RemoteRecord {
	c := *r
	c.Fields = append(json.RawMessage(nil), r.Fields...)
	return &c
}

func notFound(kind models.Kind, id int64) error {
	return &client.APIError{StatusCode: 404, Code: "not_found", Message: fmt.Sprintf("%s %d not found", kind, id)}
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	if f.pingHook != nil {
		f.pingHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ping")
	return f.pingErr
}

func (f *fakeRemote) Create(ctx context.Context, kind models.Kind, fields json.RawMessage) (*models.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("create", kind); err != nil {
		return nil, err
	}

	f.nextID++
	now := f.tick()
	rec := &models.RemoteRecord{ID: f.nextID, Kind: kind, Fields: append(json.RawMessage(nil), fields...), CreatedAt: now, UpdatedAt: now}
	f.table(kind)[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (f *fakeRemote) Update(ctx context.Context, kind models.Kind, id int64, fields json.RawMessage) (*models.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("update", kind); err != nil {
		return nil, err
	}

	rec, ok := f.table(kind)[id]
	if !ok || rec.Deleted {
		return nil, notFound(kind, id)
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(rec.Fields, &merged); err != nil {
		return nil, err
	}
	patch := map[string]json.RawMessage{}
	if err := json.Unmarshal(fields, &patch); err != nil {
		return nil, err
	}
	for k, v := range patch {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	rec.Fields = data
	rec.UpdatedAt = f.tick()
	return cloneRecord(rec), nil
}

func (f *fakeRemote) Delete(ctx context.Context, kind models.Kind, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("delete", kind); err != nil {
		return err
	}

	rec, ok := f.table(kind)[id]
	if !ok {
		return notFound(kind, id)
	}
	if !rec.Deleted {
		rec.Deleted = true
		rec.UpdatedAt = f.tick()
	}
	return nil
}

func (f *fakeRemote) ListSince(ctx context.Context, kind models.Kind, since *time.Time) ([]*models.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("list", kind); err != nil {
		return nil, err
	}

	var out []*models.RemoteRecord
	for _, rec := range f.table(kind) {
		if since != nil && !rec.UpdatedAt.After(*since) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// serverSide changes a record as if another device had written it.
func (f *fakeRemote) serverSide(t *testing.T, kind models.Kind, fields string) *models.RemoteRecord {
	t.Helper()
	rec, err := f.Create(context.Background(), kind, json.RawMessage(fields))
	require.NoError(t, err)
	return rec
}

func (f *fakeRemote) record(kind models.Kind, id int64) *models.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.table(kind)[id]
	if !ok {
		return nil
	}
	return cloneRecord(rec)
}

func (f *fakeRemote) live(kind models.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.table(kind) {
		if !rec.Deleted {
			n++
		}
	}
	return n
}

func (f *fakeRemote) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

var _ client.Client = (*fakeRemote)(nil)

// harness is a client database plus a coordinator talking to a fakeRemote.
type harness struct {
	db     *sql.DB
	repos  *repomanager.SQLiteRepositoryManager
	outbox *Outbox
	remote *fakeRemote
	coord  *Coordinator
	clock  time.Time
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		db:     setupDB(t),
		repos:  repomanager.NewSQLiteRepositoryManager(),
		remote: newFakeRemote(),
		clock:  time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	h.outbox = NewOutbox(h.repos)
	h.outbox.now = h.now
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = time.Second
	}
	h.coord = NewCoordinator(h.db, h.repos, h.outbox, h.remote, logging.NewDiscardLogger(), opts)
	return h
}

func (h *harness) now() time.Time {
	h.clock = h.clock.Add(time.Millisecond)
	return h.clock
}

// create stores e and queues its create, the way the planner service does.
func (h *harness) create(t *testing.T, e models.Entity) string {
	t.Helper()
	m := e.SyncMeta()
	if m.LocalID == "" {
		m.LocalID = models.NewLocalID(e.Kind())
	}
	m.CreatedAt = h.now()
	m.ModifiedAt = m.CreatedAt

	p, err := models.SnapshotPatch(e)
	require.NoError(t, err)
	require.NoError(t, dbx.WithTx(context.Background(), h.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := h.repos.Entities(tx).Upsert(ctx, e); err != nil {
			return err
		}
		return h.outbox.Append(ctx, tx, &models.OutboxItem{Kind: e.Kind(), Op: models.OpCreate, LocalID: m.LocalID, Payload: p})
	}))
	return m.LocalID
}

func (h *harness) update(t *testing.T, kind models.Kind, localID string, p models.Patch) {
	t.Helper()
	require.NoError(t, dbx.WithTx(context.Background(), h.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ents := h.repos.Entities(tx)
		e, err := ents.Get(ctx, kind, localID)
		if err != nil {
			return err
		}
		if err := p.Apply(e); err != nil {
			return err
		}
		e.SyncMeta().ModifiedAt = h.now()
		if err := ents.Upsert(ctx, e); err != nil {
			return err
		}
		return h.outbox.Append(ctx, tx, &models.OutboxItem{Kind: kind, Op: models.OpUpdate, LocalID: localID, RemoteID: e.SyncMeta().RemoteID, Payload: p})
	}))
}

func (h *harness) remove(t *testing.T, kind models.Kind, localID string) {
	t.Helper()
	require.NoError(t, dbx.WithTx(context.Background(), h.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ents := h.repos.Entities(tx)
		e, err := ents.Get(ctx, kind, localID)
		if err != nil {
			return err
		}
		if _, err := ents.Delete(ctx, kind, localID); err != nil {
			return err
		}
		return h.outbox.Append(ctx, tx, &models.OutboxItem{Kind: kind, Op: models.OpDelete, LocalID: localID, RemoteID: e.SyncMeta().RemoteID})
	}))
}

func (h *harness) get(t *testing.T, kind models.Kind, localID string) models.Entity {
	t.Helper()
	e, err := h.repos.Entities(h.db).Get(context.Background(), kind, localID)
	require.NoError(t, err)
	return e
}

func (h *harness) list(t *testing.T, kind models.Kind) []models.Entity {
	t.Helper()
	es, err := h.repos.Entities(h.db).List(context.Background(), kind)
	require.NoError(t, err)
	return es
}

func (h *harness) pending(t *testing.T) []*models.OutboxItem {
	t.Helper()
	items, err := h.repos.Outbox(h.db).ListPending(context.Background())
	require.NoError(t, err)
	return items
}

func (h *harness) parked(t *testing.T) []*models.OutboxItem {
	t.Helper()
	items, err := h.repos.Outbox(h.db).ListParked(context.Background())
	require.NoError(t, err)
	return items
}

func str(s string) *string { return &s }
