package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire bodies. References are remote ids, 0 meaning "none".

type CategoryFields struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

type TaskFields struct {
	Title      *string    `json:"title,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	Done       *bool      `json:"done,omitempty"`
	CategoryID *int64     `json:"category_id,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	Priority   *int       `json:"priority,omitempty"`
}

type TimeBlockFields struct {
	TaskID   *int64     `json:"task_id,omitempty"`
	Label    *string    `json:"label,omitempty"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// RemoteRecord is a record as the Remote API returns it. UpdatedAt is
// assigned by the server on every write; Deleted marks a tombstone.
type RemoteRecord struct {
	ID        int64           `json:"id"`
	Kind      Kind            `json:"kind"`
	Fields    json.RawMessage `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}

// Entity decodes the record into a local entity of kind k. The entity gets
// its deterministic local id and references are expressed as linked ids.
// ModifiedAt is set to the server's UpdatedAt so a second pull of the same
// record compares equal.
func (r *RemoteRecord) Entity(k Kind) (Entity, error) {
	meta := Meta{
		LocalID:    LinkedID(k, r.ID),
		RemoteID:   ptr(r.ID),
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.UpdatedAt,
		UpdatedAt:  ptr(r.UpdatedAt),
	}

	fields := r.Fields
	if len(fields) == 0 {
		fields = json.RawMessage("{}")
	}

	switch k {
	case KindCategory:
		var f CategoryFields
		if err := json.Unmarshal(fields, &f); err != nil {
			return nil, fmt.Errorf("decode category %d: %w", r.ID, err)
		}
		c := &Category{Meta: meta}
		assign(&c.Name, f.Name)
		assign(&c.Color, f.Color)
		assign(&c.Icon, f.Icon)
		return c, nil

	case KindTask:
		var f TaskFields
		if err := json.Unmarshal(fields, &f); err != nil {
			return nil, fmt.Errorf("decode task %d: %w", r.ID, err)
		}
		t := &Task{Meta: meta}
		assign(&t.Title, f.Title)
		assign(&t.Notes, f.Notes)
		assign(&t.Done, f.Done)
		assign(&t.Priority, f.Priority)
		if f.CategoryID != nil && *f.CategoryID > 0 {
			t.CategoryID = LinkedID(KindCategory, *f.CategoryID)
		}
		if f.DueAt != nil {
			t.DueAt = optionalTime(*f.DueAt)
		}
		return t, nil

	case KindTimeBlock:
		var f TimeBlockFields
		if err := json.Unmarshal(fields, &f); err != nil {
			return nil, fmt.Errorf("decode time block %d: %w", r.ID, err)
		}
		b := &TimeBlock{Meta: meta}
		assign(&b.Label, f.Label)
		assign(&b.StartsAt, f.StartsAt)
		assign(&b.EndsAt, f.EndsAt)
		if f.TaskID != nil && *f.TaskID > 0 {
			b.TaskID = LinkedID(KindTask, *f.TaskID)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
}
