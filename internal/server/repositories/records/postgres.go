// Package records provides the PostgreSQL-backed store of planner records.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
	"github.com/dmitrijs2005/planbook/internal/server/models"
)

// nextStamp is the updated_at of a write to the ($1 user, $2 kind)
// collection: the wall clock, but always past the newest stamp already
// handed out there. It only orders commits when the writer holds
// LockCollection; otherwise a slower transaction can commit an older stamp
// behind a reader's cursor.
const nextStamp = `GREATEST(clock_timestamp(),
	(SELECT max(s.updated_at) + interval '1 microsecond' FROM records s WHERE s.user_id = $1 AND s.kind = $2))`

const recordColumns = `id, kind, fields, created_at, updated_at, deleted`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LockCollection takes a transaction-scoped advisory lock. On a bare
// *sql.DB it is released as soon as the statement finishes.
func (r *PostgresRepository) LockCollection(ctx context.Context, userID string, kind models.Kind) error {
	_, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, userID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to lock %s collection: %w", kind, err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (user_id, kind, fields, created_at, updated_at)
		SELECT $1, $2, $3, s.ts, s.ts FROM (SELECT ` + nextStamp + ` AS ts) s
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, rec.UserID, string(rec.Kind), []byte(rec.Fields)).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, userID string, kind models.Kind, id int64, patch json.RawMessage) (*models.Record, error) {
	query := `
		UPDATE records
		SET fields = fields || $4::jsonb, updated_at = ` + nextStamp + `
		WHERE user_id = $1 AND kind = $2 AND id = $3 AND NOT deleted
		RETURNING ` + recordColumns
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, userID, string(kind), id, []byte(patch)))
	if dbx.IsNoRows(err) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	rec.UserID = userID
	return rec, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string, kind models.Kind, id int64) error {
	query := `
		UPDATE records
		SET deleted = TRUE, updated_at = ` + nextStamp + `
		WHERE user_id = $1 AND kind = $2 AND id = $3 AND NOT deleted
	`
	n, err := dbx.RowsAffected(r.db.ExecContext(ctx, query, userID, string(kind), id))
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE user_id = $1 AND kind = $2 AND id = $3)`,
		userID, string(kind), id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}
	if !exists {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) ListSince(ctx context.Context, userID string, kind models.Kind, since *time.Time) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE user_id = $1 AND kind = $2`
	args := []any{userID, string(kind)}
	if since != nil {
		query += ` AND updated_at > $3`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY updated_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.UserID = userID
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, userID string, kind models.Kind, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE user_id = $1 AND kind = $2 AND id = $3 AND NOT deleted)`,
		userID, string(kind), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up record: %w", err)
	}
	return exists, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		rec    models.Record
		kind   string
		fields []byte
	)
	if err := s.Scan(&rec.ID, &kind, &fields, &rec.CreatedAt, &rec.UpdatedAt, &rec.Deleted); err != nil {
		return nil, err
	}
	rec.Kind = models.Kind(kind)
	rec.Fields = json.RawMessage(fields)
	return &rec, nil
}

var _ Repository = (*PostgresRepository)(nil)
