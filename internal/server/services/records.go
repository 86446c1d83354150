// Package services implements the server's business rules over the
// record repositories.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
	"github.com/dmitrijs2005/planbook/internal/server/models"
	"github.com/dmitrijs2005/planbook/internal/server/repositories/repomanager"
)

// RecordService stores planner records per user. Every record is scoped
// to the user id taken from the caller's token.
type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewRecordService(db *sql.DB, repomanager repomanager.RepositoryManager) *RecordService {
	return &RecordService{db: db, repomanager: repomanager}
}

// Create stores a new record of kind. Fields must be a JSON object with
// every required field of the kind, and its references must point at
// live records of the same user.
func (s *RecordService) Create(ctx context.Context, userID string, kind models.Kind, fields json.RawMessage) (*models.Record, error) {
	obj, err := decodeObject(fields)
	if err != nil {
		return nil, err
	}
	for _, name := range kind.Required() {
		v, ok := obj[name]
		if !ok || isNull(v) {
			return nil, fmt.Errorf("%w: %s is required", common.ErrorValidation, name)
		}
	}

	rec := &models.Record{UserID: userID, Kind: kind, Fields: fields}
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)
		if err := repo.LockCollection(ctx, userID, kind); err != nil {
			return err
		}
		if err := s.checkReferences(ctx, tx, userID, kind, obj); err != nil {
			return err
		}
		return repo.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges fields into a live record.
func (s *RecordService) Update(ctx context.Context, userID string, kind models.Kind, id int64, fields json.RawMessage) (*models.Record, error) {
	obj, err := decodeObject(fields)
	if err != nil {
		return nil, err
	}
	for _, name := range kind.Required() {
		if v, ok := obj[name]; ok && isNull(v) {
			return nil, fmt.Errorf("%w: %s cannot be cleared", common.ErrorValidation, name)
		}
	}

	var rec *models.Record
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)
		if err := repo.LockCollection(ctx, userID, kind); err != nil {
			return err
		}
		if err := s.checkReferences(ctx, tx, userID, kind, obj); err != nil {
			return err
		}
		var err error
		rec, err = repo.Update(ctx, userID, kind, id, fields)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete turns the record into a tombstone so other devices see the
// deletion on their next pull. Deleting twice is not an error.
func (s *RecordService) Delete(ctx context.Context, userID string, kind models.Kind, id int64) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)
		if err := repo.LockCollection(ctx, userID, kind); err != nil {
			return err
		}
		return repo.Delete(ctx, userID, kind, id)
	})
}

// ListSince returns the records of kind changed strictly after since,
// oldest first. A nil since lists everything.
func (s *RecordService) ListSince(ctx context.Context, userID string, kind models.Kind, since *time.Time) ([]*models.Record, error) {
	return s.repomanager.Records(s.db).ListSince(ctx, userID, kind, since)
}

func (s *RecordService) checkReferences(ctx context.Context, tx dbx.DBTX, userID string, kind models.Kind, obj map[string]json.RawMessage) error {
	for field, target := range kind.References() {
		raw, ok := obj[field]
		if !ok || isNull(raw) {
			continue
		}
		var id int64
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("%w: %s must be an integer", common.ErrorValidation, field)
		}
		if id == 0 {
			continue
		}
		ok, err := s.repomanager.Records(tx).Exists(ctx, userID, target, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %d", common.ErrorReferenceNotFound, target, id)
		}
	}
	return nil
}

func decodeObject(fields json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(fields, &obj); err != nil || obj == nil {
		return nil, errors.Join(common.ErrorValidation, errors.New("fields must be a JSON object"))
	}
	return obj, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
