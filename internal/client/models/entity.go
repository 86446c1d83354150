package models

import (
	"errors"
	"time"
)

var ErrValidation = errors.New("validation failed")

// Meta is the sync bookkeeping every entity carries.
type Meta struct {
	LocalID  string
	RemoteID *int64

	CreatedAt time.Time
	// ModifiedAt is bumped on every local mutation and is the
	// last-writer-wins comparison key against the server's UpdatedAt.
	ModifiedAt time.Time
	// UpdatedAt mirrors the server's timestamp after a push or pull.
	UpdatedAt *time.Time
}

func (m *Meta) SyncMeta() *Meta { return m }

// Ref is a foreign key held by an entity or patch.
type Ref struct {
	Kind    Kind
	LocalID string
}

// Entity is implemented by *Task, *Category and *TimeBlock.
type Entity interface {
	Kind() Kind
	SyncMeta() *Meta
	References() []Ref
	Validate() error
}

type Category struct {
	Meta
	Name  string
	Color string
	Icon  string
}

func (c *Category) Kind() Kind { return KindCategory }

func (c *Category) References() []Ref { return nil }

func (c *Category) Validate() error {
	if c.Name == "" {
		return errors.Join(ErrValidation, errors.New("category name is empty"))
	}
	return nil
}

type Task struct {
	Meta
	Title string
	Notes string
	Done  bool
	// CategoryID is the local id of the task's category, empty if none.
	CategoryID string
	DueAt      *time.Time
	Priority   int
}

func (t *Task) Kind() Kind { return KindTask }

func (t *Task) References() []Ref {
	if t.CategoryID == "" {
		return nil
	}
	return []Ref{{Kind: KindCategory, LocalID: t.CategoryID}}
}

func (t *Task) Validate() error {
	if t.Title == "" {
		return errors.Join(ErrValidation, errors.New("task title is empty"))
	}
	return nil
}

type TimeBlock struct {
	Meta
	// TaskID is the local id of the scheduled task, empty for a free block.
	TaskID   string
	Label    string
	StartsAt time.Time
	EndsAt   time.Time
}

func (b *TimeBlock) Kind() Kind { return KindTimeBlock }

func (b *TimeBlock) References() []Ref {
	if b.TaskID == "" {
		return nil
	}
	return []Ref{{Kind: KindTask, LocalID: b.TaskID}}
}

func (b *TimeBlock) Validate() error {
	if b.StartsAt.IsZero() || b.EndsAt.IsZero() {
		return errors.Join(ErrValidation, errors.New("time block bounds are not set"))
	}
	if !b.EndsAt.After(b.StartsAt) {
		return errors.Join(ErrValidation, errors.New("time block must end after it starts"))
	}
	return nil
}

// NewEntity returns a zero entity of kind k.
func NewEntity(k Kind) (Entity, error) {
	switch k {
	case KindCategory:
		return &Category{}, nil
	case KindTask:
		return &Task{}, nil
	case KindTimeBlock:
		return &TimeBlock{}, nil
	}
	return nil, ErrUnknownKind
}
