package entities

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const (
	categoryColumns  = `local_id, remote_id, created_at, modified_at, updated_at, name, color, icon`
	taskColumns      = `local_id, remote_id, created_at, modified_at, updated_at, title, notes, done, category_id, due_at, priority`
	timeBlockColumns = `local_id, remote_id, created_at, modified_at, updated_at, task_id, label, starts_at, ends_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func table(kind models.Kind) (name, columns string, err error) {
	switch kind {
	case models.KindCategory:
		return "categories", categoryColumns, nil
	case models.KindTask:
		return "tasks", taskColumns, nil
	case models.KindTimeBlock:
		return "time_blocks", timeBlockColumns, nil
	}
	return "", "", fmt.Errorf("%w: %q", models.ErrUnknownKind, kind)
}

func (r *SQLiteRepository) Get(ctx context.Context, kind models.Kind, localID string) (models.Entity, error) {
	return r.getOne(ctx, kind, "local_id", localID)
}

func (r *SQLiteRepository) GetByRemoteID(ctx context.Context, kind models.Kind, remoteID int64) (models.Entity, error) {
	return r.getOne(ctx, kind, "remote_id", remoteID)
}

func (r *SQLiteRepository) getOne(ctx context.Context, kind models.Kind, column string, value any) (models.Entity, error) {
	name, columns, err := table(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, columns, name, column)
	e, err := scanEntity(kind, r.db.QueryRowContext(ctx, query, value))
	if dbx.IsNoRows(err) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s by %s: %w", kind, column, err)
	}
	return e, nil
}

func (r *SQLiteRepository) List(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	name, columns, err := table(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, local_id`, columns, name))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var result []models.Entity
	for rows.Next() {
		e, err := scanEntity(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", kind, err)
	}
	return result, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e models.Entity) error {
	m := e.SyncMeta()
	base := []any{m.LocalID, nullInt(m.RemoteID), nanos(m.CreatedAt), nanos(m.ModifiedAt), nullNanos(m.UpdatedAt)}

	var (
		query string
		args  []any
	)

	switch v := e.(type) {
	case *models.Category:
		query = `INSERT INTO categories (` + categoryColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				remote_id = excluded.remote_id,
				modified_at = excluded.modified_at,
				updated_at = excluded.updated_at,
				name = excluded.name,
				color = excluded.color,
				icon = excluded.icon`
		args = append(base, v.Name, v.Color, v.Icon)

	case *models.Task:
		query = `INSERT INTO tasks (` + taskColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				remote_id = excluded.remote_id,
				modified_at = excluded.modified_at,
				updated_at = excluded.updated_at,
				title = excluded.title,
				notes = excluded.notes,
				done = excluded.done,
				category_id = excluded.category_id,
				due_at = excluded.due_at,
				priority = excluded.priority`
		args = append(base, v.Title, v.Notes, v.Done, nullString(v.CategoryID), nullNanos(v.DueAt), v.Priority)

	case *models.TimeBlock:
		query = `INSERT INTO time_blocks (` + timeBlockColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				remote_id = excluded.remote_id,
				modified_at = excluded.modified_at,
				updated_at = excluded.updated_at,
				task_id = excluded.task_id,
				label = excluded.label,
				starts_at = excluded.starts_at,
				ends_at = excluded.ends_at`
		args = append(base, nullString(v.TaskID), v.Label, nanos(v.StartsAt), nanos(v.EndsAt))

	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownKind, e)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", e.Kind(), m.LocalID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, kind models.Kind, localID string) (bool, error) {
	name, _, err := table(kind)
	if err != nil {
		return false, err
	}

	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, name), localID))
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", kind, localID, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Relink(ctx context.Context, kind models.Kind, oldID, newID string, remoteID int64, updatedAt time.Time) (bool, error) {
	name, _, err := table(kind)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`UPDATE %s SET local_id = ?, remote_id = ?, updated_at = ? WHERE local_id = ?`, name)
	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, query, newID, remoteID, nanos(updatedAt), oldID))
	if err != nil {
		return false, fmt.Errorf("failed to relink %s %s -> %s: %w", kind, oldID, newID, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) RewriteReferences(ctx context.Context, kind models.Kind, oldID, newID string) (int64, error) {
	var query string
	switch kind {
	case models.KindCategory:
		query = `UPDATE tasks SET category_id = ? WHERE category_id = ?`
	case models.KindTask:
		query = `UPDATE time_blocks SET task_id = ? WHERE task_id = ?`
	default:
		return 0, nil
	}

	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, query, newID, oldID))
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite references to %s %s: %w", kind, oldID, err)
	}
	return n, nil
}

func (r *SQLiteRepository) DetachReferences(ctx context.Context, kind models.Kind, localID string) (int64, error) {
	var query string
	switch kind {
	case models.KindCategory:
		query = `UPDATE tasks SET category_id = NULL WHERE category_id = ?`
	case models.KindTask:
		query = `UPDATE time_blocks SET task_id = NULL WHERE task_id = ?`
	default:
		return 0, nil
	}

	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, query, localID))
	if err != nil {
		return 0, fmt.Errorf("failed to detach references to %s %s: %w", kind, localID, err)
	}
	return n, nil
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, kind models.Kind, localID string, updatedAt time.Time, modifiedAt *time.Time) error {
	name, _, err := table(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET updated_at = ?, modified_at = COALESCE(?, modified_at) WHERE local_id = ?`, name)
	if _, err := r.db.ExecContext(ctx, query, nanos(updatedAt), nullNanos(modifiedAt), localID); err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", kind, localID, err)
	}
	return nil
}

func scanEntity(kind models.Kind, row scanner) (models.Entity, error) {
	var (
		meta              models.Meta
		remoteID          sql.NullInt64
		created, modified int64
		updated           sql.NullInt64
	)

	switch kind {
	case models.KindCategory:
		c := &models.Category{}
		if err := row.Scan(&meta.LocalID, &remoteID, &created, &modified, &updated, &c.Name, &c.Color, &c.Icon); err != nil {
			return nil, err
		}
		c.Meta = fillMeta(meta, remoteID, created, modified, updated)
		return c, nil

	case models.KindTask:
		t := &models.Task{}
		var categoryID sql.NullString
		var dueAt sql.NullInt64
		if err := row.Scan(&meta.LocalID, &remoteID, &created, &modified, &updated,
			&t.Title, &t.Notes, &t.Done, &categoryID, &dueAt, &t.Priority); err != nil {
			return nil, err
		}
		t.Meta = fillMeta(meta, remoteID, created, modified, updated)
		t.CategoryID = categoryID.String
		t.DueAt = fromNullNanos(dueAt)
		return t, nil

	case models.KindTimeBlock:
		b := &models.TimeBlock{}
		var taskID sql.NullString
		var starts, ends int64
		if err := row.Scan(&meta.LocalID, &remoteID, &created, &modified, &updated,
			&taskID, &b.Label, &starts, &ends); err != nil {
			return nil, err
		}
		b.Meta = fillMeta(meta, remoteID, created, modified, updated)
		b.TaskID = taskID.String
		b.StartsAt = fromNanos(starts)
		b.EndsAt = fromNanos(ends)
		return b, nil
	}
	return nil, fmt.Errorf("%w: %q", models.ErrUnknownKind, kind)
}

func fillMeta(m models.Meta, remoteID sql.NullInt64, created, modified int64, updated sql.NullInt64) models.Meta {
	if remoteID.Valid {
		id := remoteID.Int64
		m.RemoteID = &id
	}
	m.CreatedAt = fromNanos(created)
	m.ModifiedAt = fromNanos(modified)
	m.UpdatedAt = fromNullNanos(updated)
	return m
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
