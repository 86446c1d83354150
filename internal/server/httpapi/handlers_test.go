package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/planbook/internal/client/client"
	cm "github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/logging"
	"github.com/dmitrijs2005/planbook/internal/server/auth"
	"github.com/dmitrijs2005/planbook/internal/server/models"
)

const secret = "test-secret"

// memStore keeps records in memory with a per-store monotonic clock.
type memStore struct {
	mu    sync.Mutex
	recs  []*models.Record
	clock time.Time
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) find(userID string, kind models.Kind, id int64) *models.Record {
	for _, r := range m.recs {
		if r.UserID == userID && r.Kind == kind && r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memStore) Create(ctx context.Context, userID string, kind models.Kind, fields json.RawMessage) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.Contains(string(fields), `"category_id":99`) {
		return nil, common.ErrorReferenceNotFound
	}
	if !strings.HasPrefix(strings.TrimSpace(string(fields)), "{") {
		return nil, common.ErrorValidation
	}
	now := m.tick()
	r := &models.Record{ID: int64(len(m.recs) + 1), UserID: userID, Kind: kind, Fields: fields, CreatedAt: now, UpdatedAt: now}
	m.recs = append(m.recs, r)
	return r, nil
}

func (m *memStore) Update(ctx context.Context, userID string, kind models.Kind, id int64, fields json.RawMessage) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(userID, kind, id)
	if r == nil || r.Deleted {
		return nil, common.ErrorNotFound
	}
	r.Fields = fields
	r.UpdatedAt = m.tick()
	return r, nil
}

func (m *memStore) Delete(ctx context.Context, userID string, kind models.Kind, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(userID, kind, id)
	if r == nil {
		return common.ErrorNotFound
	}
	if !r.Deleted {
		r.Deleted = true
		r.UpdatedAt = m.tick()
	}
	return nil
}

func (m *memStore) ListSince(ctx context.Context, userID string, kind models.Kind, since *time.Time) ([]*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Record, 0)
	for _, r := range m.recs {
		if r.UserID == userID && r.Kind == kind && (since == nil || r.UpdatedAt.After(*since)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()
	store := &memStore{clock: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	s := NewServer("127.0.0.1:0", logging.NewDiscardLogger(), store, secret)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := auth.GenerateToken(user, []byte(secret), time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, method, url, tok, body string) (*http.Response, errorResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var e errorResponse
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		require.NoError(t, json.Unmarshal(b, &e))
	}
	return resp, e
}

func TestPing_NeedsNoToken(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := do(t, http.MethodGet, ts.URL+common.APIPrefix+"/ping", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + common.APIPrefix
	tok := token(t, "u1")

	tests := []struct {
		name       string
		method     string
		path       string
		tok        string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "no token", method: http.MethodGet, path: "/tasks", wantStatus: http.StatusUnauthorized, wantCode: codeAuthFailed},
		{name: "bad token", method: http.MethodGet, path: "/tasks", tok: "garbage", wantStatus: http.StatusUnauthorized, wantCode: codeAuthFailed},
		{name: "unknown collection", method: http.MethodGet, path: "/notes", tok: tok, wantStatus: http.StatusNotFound, wantCode: codeNotFound},
		{name: "bad since", method: http.MethodGet, path: "/tasks?since=yesterday", tok: tok, wantStatus: http.StatusBadRequest, wantCode: codeInvalidRequest},
		{name: "invalid json", method: http.MethodPost, path: "/tasks", tok: tok, body: "{", wantStatus: http.StatusBadRequest, wantCode: codeInvalidRequest},
		{name: "validation", method: http.MethodPost, path: "/tasks", tok: tok, body: "[]", wantStatus: http.StatusBadRequest, wantCode: codeInvalidRequest},
		{name: "missing reference", method: http.MethodPost, path: "/tasks", tok: tok, body: `{"title":"a","category_id":99}`, wantStatus: http.StatusConflict, wantCode: codeReferenceNotFound},
		{name: "bad id", method: http.MethodPatch, path: "/tasks/abc", tok: tok, body: "{}", wantStatus: http.StatusBadRequest, wantCode: codeInvalidRequest},
		{name: "missing record", method: http.MethodPatch, path: "/tasks/42", tok: tok, body: "{}", wantStatus: http.StatusNotFound, wantCode: codeNotFound},
		{name: "delete missing", method: http.MethodDelete, path: "/tasks/42", tok: tok, wantStatus: http.StatusNotFound, wantCode: codeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, e := do(t, tt.method, base+tt.path, tt.tok, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, e.Error)
		})
	}
}

// The planbook client talks to the handlers unchanged.
func TestClientRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	ctx := context.Background()
	c := client.NewHTTPClient(ts.URL, 5*time.Second, client.StaticToken(token(t, "u1")))

	require.NoError(t, c.Ping(ctx))

	rec, err := c.Create(ctx, cm.KindTask, json.RawMessage(`{"title":"write"}`))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.ID)
	assert.Equal(t, cm.KindTask, rec.Kind)
	cursor := rec.UpdatedAt

	_, err = c.Update(ctx, cm.KindTask, rec.ID, json.RawMessage(`{"title":"write","done":true}`))
	require.NoError(t, err)

	changed, err := c.ListSince(ctx, cm.KindTask, &cursor)
	require.NoError(t, err)
	require.Len(t, changed, 1, "since is exclusive")
	assert.True(t, changed[0].UpdatedAt.After(cursor))

	require.NoError(t, c.Delete(ctx, cm.KindTask, rec.ID))
	require.NoError(t, c.Delete(ctx, cm.KindTask, rec.ID), "deleting twice is fine")

	all, err := c.ListSince(ctx, cm.KindTask, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Deleted)

	_, err = c.Update(ctx, cm.KindTask, rec.ID, json.RawMessage(`{}`))
	assert.True(t, client.IsNotFound(err))

	other := client.NewHTTPClient(ts.URL, 5*time.Second, client.StaticToken(token(t, "u2")))
	mine, err := other.ListSince(ctx, cm.KindTask, nil)
	require.NoError(t, err)
	assert.Empty(t, mine, "records are scoped per user")

	anon := client.NewHTTPClient(ts.URL, 5*time.Second, client.StaticToken(""))
	_, err = anon.ListSince(ctx, cm.KindTask, nil)
	require.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", logging.NewDiscardLogger(), &memStore{}, secret)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
