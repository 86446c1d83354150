package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

// Appender queues an outbox item inside the caller's transaction.
type Appender interface {
	Append(ctx context.Context, db dbx.DBTX, item *models.OutboxItem) error
}

// PlannerService is the only writer of planner entities. Every mutation
// stores the entity and queues the matching outbox item in one transaction,
// so a change is either fully recorded for sync or not at all.
type PlannerService interface {
	CreateCategory(ctx context.Context, c *models.Category) (*models.Category, error)
	UpdateCategory(ctx context.Context, id string, p *models.CategoryPatch) (*models.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]*models.Category, error)

	CreateTask(ctx context.Context, t *models.Task) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, p *models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context) ([]*models.Task, error)

	CreateTimeBlock(ctx context.Context, b *models.TimeBlock) (*models.TimeBlock, error)
	UpdateTimeBlock(ctx context.Context, id string, p *models.TimeBlockPatch) (*models.TimeBlock, error)
	DeleteTimeBlock(ctx context.Context, id string) error
	GetTimeBlock(ctx context.Context, id string) (*models.TimeBlock, error)
	ListTimeBlocks(ctx context.Context) ([]*models.TimeBlock, error)
}

type plannerService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	outbox Appender
	now    func() time.Time
}

func NewPlannerService(db *sql.DB, repos repomanager.RepositoryManager, outbox Appender) PlannerService {
	return &plannerService{db: db, repos: repos, outbox: outbox, now: time.Now}
}

func (s *plannerService) CreateCategory(ctx context.Context, c *models.Category) (*models.Category, error) {
	if err := s.create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *plannerService) UpdateCategory(ctx context.Context, id string, p *models.CategoryPatch) (*models.Category, error) {
	if p == nil {
		return s.GetCategory(ctx, id)
	}
	return updateAs[*models.Category](ctx, s, models.KindCategory, id, p)
}

// DeleteCategory removes the category and takes it off every task that
// used it.
func (s *plannerService) DeleteCategory(ctx context.Context, id string) error {
	return s.delete(ctx, models.KindCategory, id)
}

func (s *plannerService) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	return getAs[*models.Category](ctx, s, models.KindCategory, id)
}

func (s *plannerService) ListCategories(ctx context.Context) ([]*models.Category, error) {
	return listAs[*models.Category](ctx, s, models.KindCategory)
}

func (s *plannerService) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	if err := s.create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *plannerService) UpdateTask(ctx context.Context, id string, p *models.TaskPatch) (*models.Task, error) {
	if p == nil {
		return s.GetTask(ctx, id)
	}
	return updateAs[*models.Task](ctx, s, models.KindTask, id, p)
}

// DeleteTask removes the task; its time blocks stay as free blocks.
func (s *plannerService) DeleteTask(ctx context.Context, id string) error {
	return s.delete(ctx, models.KindTask, id)
}

func (s *plannerService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getAs[*models.Task](ctx, s, models.KindTask, id)
}

func (s *plannerService) ListTasks(ctx context.Context) ([]*models.Task, error) {
	return listAs[*models.Task](ctx, s, models.KindTask)
}

func (s *plannerService) CreateTimeBlock(ctx context.Context, b *models.TimeBlock) (*models.TimeBlock, error) {
	if err := s.create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *plannerService) UpdateTimeBlock(ctx context.Context, id string, p *models.TimeBlockPatch) (*models.TimeBlock, error) {
	if p == nil {
		return s.GetTimeBlock(ctx, id)
	}
	return updateAs[*models.TimeBlock](ctx, s, models.KindTimeBlock, id, p)
}

func (s *plannerService) DeleteTimeBlock(ctx context.Context, id string) error {
	return s.delete(ctx, models.KindTimeBlock, id)
}

func (s *plannerService) GetTimeBlock(ctx context.Context, id string) (*models.TimeBlock, error) {
	return getAs[*models.TimeBlock](ctx, s, models.KindTimeBlock, id)
}

func (s *plannerService) ListTimeBlocks(ctx context.Context) ([]*models.TimeBlock, error) {
	return listAs[*models.TimeBlock](ctx, s, models.KindTimeBlock)
}

func (s *plannerService) create(ctx context.Context, e models.Entity) error {
	now := s.now().UTC()
	m := e.SyncMeta()
	m.LocalID = models.NewLocalID(e.Kind())
	m.RemoteID = nil
	m.UpdatedAt = nil
	m.CreatedAt = now
	m.ModifiedAt = now

	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := models.SnapshotPatch(e)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.checkReferences(ctx, tx, e.References()); err != nil {
			return err
		}
		if err := s.repos.Entities(tx).Upsert(ctx, e); err != nil {
			return fmt.Errorf("failed to save %s: %w", e.Kind(), err)
		}
		return s.outbox.Append(ctx, tx, &models.OutboxItem{
			Kind:       e.Kind(),
			Op:         models.OpCreate,
			LocalID:    m.LocalID,
			Payload:    payload,
			EnqueuedAt: now,
		})
	})
}

func (s *plannerService) update(ctx context.Context, kind models.Kind, id string, p models.Patch) (models.Entity, error) {
	var out models.Entity
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ents := s.repos.Entities(tx)
		e, err := s.get(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		out = e
		if p.IsEmpty() {
			return nil
		}

		if err := p.Apply(e); err != nil {
			return err
		}
		if err := e.Validate(); err != nil {
			return err
		}
		if err := s.checkReferences(ctx, tx, p.References()); err != nil {
			return err
		}

		now := s.now().UTC()
		e.SyncMeta().ModifiedAt = now
		if err := ents.Upsert(ctx, e); err != nil {
			return fmt.Errorf("failed to save %s: %w", kind, err)
		}
		return s.outbox.Append(ctx, tx, &models.OutboxItem{
			Kind:       kind,
			Op:         models.OpUpdate,
			LocalID:    id,
			RemoteID:   e.SyncMeta().RemoteID,
			Payload:    p,
			EnqueuedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *plannerService) delete(ctx context.Context, kind models.Kind, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ents := s.repos.Entities(tx)
		e, err := s.get(ctx, tx, kind, id)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		for _, dep := range kind.Dependents() {
			if err := s.detach(ctx, tx, dep, models.Ref{Kind: kind, LocalID: id}, now); err != nil {
				return err
			}
		}

		if _, err := ents.Delete(ctx, kind, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", kind, err)
		}
		return s.outbox.Append(ctx, tx, &models.OutboxItem{
			Kind:       kind,
			Op:         models.OpDelete,
			LocalID:    id,
			RemoteID:   e.SyncMeta().RemoteID,
			EnqueuedAt: now,
		})
	})
}

// detach clears ref on every entity of kind that holds it, as a regular
// queued update.
func (s *plannerService) detach(ctx context.Context, tx dbx.DBTX, kind models.Kind, ref models.Ref, now time.Time) error {
	ents := s.repos.Entities(tx)
	all, err := ents.List(ctx, kind)
	if err != nil {
		return err
	}

	for _, e := range all {
		if !holds(e, ref) {
			continue
		}
		p := clearReference(kind)
		if err := p.Apply(e); err != nil {
			return err
		}
		e.SyncMeta().ModifiedAt = now
		if err := ents.Upsert(ctx, e); err != nil {
			return err
		}
		err := s.outbox.Append(ctx, tx, &models.OutboxItem{
			Kind:       kind,
			Op:         models.OpUpdate,
			LocalID:    e.SyncMeta().LocalID,
			RemoteID:   e.SyncMeta().RemoteID,
			Payload:    p,
			EnqueuedAt: now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func holds(e models.Entity, ref models.Ref) bool {
	for _, r := range e.References() {
		if r == ref {
			return true
		}
	}
	return false
}

func clearReference(kind models.Kind) models.Patch {
	none := ""
	if kind == models.KindTimeBlock {
		return &models.TimeBlockPatch{TaskID: &none}
	}
	return &models.TaskPatch{CategoryID: &none}
}

func (s *plannerService) checkReferences(ctx context.Context, tx dbx.DBTX, refs []models.Ref) error {
	for _, ref := range refs {
		if ref.LocalID == "" {
			continue
		}
		_, err := s.repos.Entities(tx).Get(ctx, ref.Kind, ref.LocalID)
		if errors.Is(err, common.ErrorNotFound) {
			return errors.Join(models.ErrValidation, fmt.Errorf("%s %s does not exist", ref.Kind, ref.LocalID))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *plannerService) get(ctx context.Context, db dbx.DBTX, kind models.Kind, id string) (models.Entity, error) {
	e, err := s.repos.Entities(db).Get(ctx, kind, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, common.ErrorNotFound)
	}
	return e, err
}

func getAs[T models.Entity](ctx context.Context, s *plannerService, kind models.Kind, id string) (T, error) {
	var zero T
	e, err := s.get(ctx, s.db, kind, id)
	if err != nil {
		return zero, err
	}
	return e.(T), nil
}

func updateAs[T models.Entity](ctx context.Context, s *plannerService, kind models.Kind, id string, p models.Patch) (T, error) {
	var zero T
	e, err := s.update(ctx, kind, id, p)
	if err != nil {
		return zero, err
	}
	return e.(T), nil
}

func listAs[T models.Entity](ctx context.Context, s *plannerService, kind models.Kind) ([]T, error) {
	all, err := s.repos.Entities(s.db).List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, e := range all {
		out = append(out, e.(T))
	}
	return out, nil
}
