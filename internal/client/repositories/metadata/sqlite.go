package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

// SQLiteRepository stores every value as a row of the metadata table.
// Times are RFC 3339 with nanoseconds, always UTC.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Checkpoint(ctx context.Context, kind models.Kind) (*time.Time, error) {
	return r.time(ctx, checkpointKey(kind))
}

// AdvanceCheckpoint reads and writes on the same handle; callers applying a
// pulled page pass their transaction so the page and the checkpoint commit
// together.
func (r *SQLiteRepository) AdvanceCheckpoint(ctx context.Context, kind models.Kind, t time.Time) error {
	cur, err := r.Checkpoint(ctx, kind)
	if err != nil {
		return err
	}
	if cur != nil && !t.After(*cur) {
		return nil
	}
	return r.setTime(ctx, checkpointKey(kind), t)
}

func (r *SQLiteRepository) RewindCheckpoint(ctx context.Context, kind models.Kind, t *time.Time) error {
	if t == nil {
		return r.delete(ctx, checkpointKey(kind))
	}
	cur, err := r.Checkpoint(ctx, kind)
	if err != nil {
		return err
	}
	if cur == nil || !t.Before(*cur) {
		return nil
	}
	return r.setTime(ctx, checkpointKey(kind), *t)
}

func (r *SQLiteRepository) LastSync(ctx context.Context) (*time.Time, string, error) {
	at, err := r.time(ctx, keyLastSyncedAt)
	if err != nil {
		return nil, "", err
	}
	msg, err := r.get(ctx, keyLastError)
	if err != nil {
		return nil, "", err
	}
	return at, string(msg), nil
}

func (r *SQLiteRepository) RecordSuccess(ctx context.Context, at time.Time) error {
	if err := r.setTime(ctx, keyLastSyncedAt, at); err != nil {
		return err
	}
	return r.delete(ctx, keyLastError)
}

func (r *SQLiteRepository) RecordFailure(ctx context.Context, msg string) error {
	return r.set(ctx, keyLastError, []byte(msg))
}

func (r *SQLiteRepository) AccessToken(ctx context.Context) (string, error) {
	v, err := r.get(ctx, keyAccessToken)
	return string(v), err
}

func (r *SQLiteRepository) SetAccessToken(ctx context.Context, token string) error {
	return r.set(ctx, keyAccessToken, []byte(token))
}

func (r *SQLiteRepository) DeleteAccessToken(ctx context.Context) error {
	return r.delete(ctx, keyAccessToken)
}

// get returns nil for a missing key.
func (r *SQLiteRepository) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if dbx.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) time(ctx context.Context, key string) (*time.Time, error) {
	raw, err := r.get(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return nil, fmt.Errorf("malformed %s: %w", key, err)
	}
	return &t, nil
}

func (r *SQLiteRepository) setTime(ctx context.Context, key string, t time.Time) error {
	return r.set(ctx, key, []byte(t.UTC().Format(time.RFC3339Nano)))
}

var _ Repository = (*SQLiteRepository)(nil)
