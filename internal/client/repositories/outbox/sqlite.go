package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const itemColumns = `seq, id, kind, op, local_id, remote_id, payload, enqueued_at, attempt_count, parked, last_error`

func (r *SQLiteRepository) Insert(ctx context.Context, item *models.OutboxItem) error {
	payload, err := models.EncodePatch(item.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbox payload: %w", err)
	}

	var remoteID any
	if item.RemoteID != nil {
		remoteID = *item.RemoteID
	}

	query := `INSERT INTO outbox (id, kind, op, local_id, remote_id, payload, enqueued_at, attempt_count, parked, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`
	err = r.db.QueryRowContext(ctx, query,
		item.ID, string(item.Kind), string(item.Op), item.LocalID, remoteID, payload,
		item.EnqueuedAt.UnixNano(), item.AttemptCount, item.Parked, item.LastError,
	).Scan(&item.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert outbox item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.OutboxItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM outbox WHERE id = ?`, id)
	item, err := scanItem(row)
	if dbx.IsNoRows(err) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox item %s: %w", id, err)
	}
	return item, nil
}

func (r *SQLiteRepository) UpdatePayload(ctx context.Context, id string, payload models.Patch, enqueuedAt time.Time) error {
	data, err := models.EncodePatch(payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbox payload: %w", err)
	}

	// A fresh local edit gives a parked item another chance.
	query := `UPDATE outbox SET payload = ?, enqueued_at = ?, parked = 0, attempt_count = 0, last_error = '' WHERE id = ?`
	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, query, data, enqueuedAt.UnixNano(), id))
	if err != nil {
		return fmt.Errorf("failed to update outbox item %s: %w", id, err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) ReplacePayload(ctx context.Context, id string, payload models.Patch) error {
	data, err := models.EncodePatch(payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbox payload: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE outbox SET payload = ? WHERE id = ?`, data, id); err != nil {
		return fmt.Errorf("failed to replace payload of %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete outbox item %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) ListPending(ctx context.Context) ([]*models.OutboxItem, error) {
	return r.list(ctx, `WHERE parked = 0 ORDER BY seq`)
}

func (r *SQLiteRepository) ListParked(ctx context.Context) ([]*models.OutboxItem, error) {
	return r.list(ctx, `WHERE parked = 1 ORDER BY seq`)
}

func (r *SQLiteRepository) ListForEntity(ctx context.Context, kind models.Kind, localID string) ([]*models.OutboxItem, error) {
	return r.list(ctx, `WHERE kind = ? AND local_id = ? ORDER BY seq`, string(kind), localID)
}

func (r *SQLiteRepository) ListByKind(ctx context.Context, kind models.Kind) ([]*models.OutboxItem, error) {
	return r.list(ctx, `WHERE kind = ? ORDER BY seq`, string(kind))
}

func (r *SQLiteRepository) list(ctx context.Context, where string, args ...any) ([]*models.OutboxItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM outbox `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var result []*models.OutboxItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) IncrementAttempt(ctx context.Context, id string, lastError string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE outbox SET attempt_count = attempt_count + 1, last_error = ? WHERE id = ? RETURNING attempt_count`,
		lastError, id,
	).Scan(&attempts)
	if dbx.IsNoRows(err) {
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt for %s: %w", id, err)
	}
	return attempts, nil
}

func (r *SQLiteRepository) SetParked(ctx context.Context, id string, parked bool, reason string) error {
	query := `UPDATE outbox SET parked = ?, last_error = ? WHERE id = ?`
	if !parked {
		query = `UPDATE outbox SET parked = ?, last_error = ?, attempt_count = 0 WHERE id = ?`
	}
	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, query, parked, reason, id))
	if err != nil {
		return fmt.Errorf("failed to park outbox item %s: %w", id, err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Retarget(ctx context.Context, kind models.Kind, oldLocalID, newLocalID string, remoteID int64) (int64, error) {
	n, err := dbx.RowsAffected(r.db.ExecContext(ctx,
		`UPDATE outbox SET local_id = ?, remote_id = ? WHERE kind = ? AND local_id = ?`,
		newLocalID, remoteID, string(kind), oldLocalID,
	))
	if err != nil {
		return 0, fmt.Errorf("failed to retarget outbox items of %s %s: %w", kind, oldLocalID, err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountForEntity(ctx context.Context, kind models.Kind, localID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE kind = ? AND local_id = ?`, string(kind), localID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox items of %s %s: %w", kind, localID, err)
	}
	return n, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, int, error) {
	var pending, parked sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(CASE WHEN parked = 0 THEN 1 ELSE 0 END), SUM(parked) FROM outbox`,
	).Scan(&pending, &parked)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return int(pending.Int64), int(parked.Int64), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.OutboxItem, error) {
	var (
		item       models.OutboxItem
		kind, op   string
		remoteID   sql.NullInt64
		payload    []byte
		enqueuedAt int64
	)
	if err := row.Scan(&item.Seq, &item.ID, &kind, &op, &item.LocalID, &remoteID, &payload,
		&enqueuedAt, &item.AttemptCount, &item.Parked, &item.LastError); err != nil {
		return nil, err
	}

	item.Kind = models.Kind(kind)
	item.Op = models.Operation(op)
	item.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	if remoteID.Valid {
		id := remoteID.Int64
		item.RemoteID = &id
	}

	p, err := models.DecodePatch(item.Kind, payload)
	if err != nil {
		return nil, err
	}
	item.Payload = p
	return &item, nil
}
