package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrPatchKindMismatch = errors.New("patch kind mismatch")

// RefResolver maps a local reference to the id the server knows it by.
// It returns 0 when the reference should be sent as "none".
type RefResolver func(kind Kind, localID string) (int64, error)

// Patch is a typed set of optional field changes for one entity kind. A nil
// field means "unchanged". Patches are what the outbox stores: a create
// carries the full state, an update only what changed.
type Patch interface {
	Kind() Kind
	IsEmpty() bool
	// Merge overlays newer onto the receiver field by field, newer wins.
	Merge(newer Patch) error
	Apply(e Entity) error
	References() []Ref
	// RewriteReference repoints a reference from oldID to newID and
	// reports whether anything changed.
	RewriteReference(kind Kind, oldID, newID string) bool
	// Wire encodes the patch as a Remote API body with references
	// translated to remote ids.
	Wire(resolve RefResolver) (json.RawMessage, error)
}

type CategoryPatch struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

func (p *CategoryPatch) Kind() Kind { return KindCategory }

func (p *CategoryPatch) IsEmpty() bool {
	return p.Name == nil && p.Color == nil && p.Icon == nil
}

func (p *CategoryPatch) Merge(newer Patch) error {
	n, ok := newer.(*CategoryPatch)
	if !ok {
		return fmt.Errorf("%w: %s into %s", ErrPatchKindMismatch, newer.Kind(), p.Kind())
	}
	overlay(&p.Name, n.Name)
	overlay(&p.Color, n.Color)
	overlay(&p.Icon, n.Icon)
	return nil
}

func (p *CategoryPatch) Apply(e Entity) error {
	c, ok := e.(*Category)
	if !ok {
		return fmt.Errorf("%w: %s onto %s", ErrPatchKindMismatch, p.Kind(), e.Kind())
	}
	assign(&c.Name, p.Name)
	assign(&c.Color, p.Color)
	assign(&c.Icon, p.Icon)
	return nil
}

func (p *CategoryPatch) References() []Ref { return nil }

func (p *CategoryPatch) RewriteReference(Kind, string, string) bool { return false }

func (p *CategoryPatch) Wire(RefResolver) (json.RawMessage, error) {
	return json.Marshal(CategoryFields{Name: p.Name, Color: p.Color, Icon: p.Icon})
}

type TaskPatch struct {
	Title *string `json:"title,omitempty"`
	Notes *string `json:"notes,omitempty"`
	Done  *bool   `json:"done,omitempty"`
	// CategoryID set to "" clears the category.
	CategoryID *string `json:"category_local_id,omitempty"`
	// DueAt set to the zero time clears the due date.
	DueAt    *time.Time `json:"due_at,omitempty"`
	Priority *int       `json:"priority,omitempty"`
}

func (p *TaskPatch) Kind() Kind { return KindTask }

func (p *TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Notes == nil && p.Done == nil &&
		p.CategoryID == nil && p.DueAt == nil && p.Priority == nil
}

func (p *TaskPatch) Merge(newer Patch) error {
	n, ok := newer.(*TaskPatch)
	if !ok {
		return fmt.Errorf("%w: %s into %s", ErrPatchKindMismatch, newer.Kind(), p.Kind())
	}
	overlay(&p.Title, n.Title)
	overlay(&p.Notes, n.Notes)
	overlay(&p.Done, n.Done)
	overlay(&p.CategoryID, n.CategoryID)
	overlay(&p.DueAt, n.DueAt)
	overlay(&p.Priority, n.Priority)
	return nil
}

func (p *TaskPatch) Apply(e Entity) error {
	t, ok := e.(*Task)
	if !ok {
		return fmt.Errorf("%w: %s onto %s", ErrPatchKindMismatch, p.Kind(), e.Kind())
	}
	assign(&t.Title, p.Title)
	assign(&t.Notes, p.Notes)
	assign(&t.Done, p.Done)
	assign(&t.CategoryID, p.CategoryID)
	assign(&t.Priority, p.Priority)
	if p.DueAt != nil {
		t.DueAt = optionalTime(*p.DueAt)
	}
	return nil
}

func (p *TaskPatch) References() []Ref {
	if p.CategoryID == nil || *p.CategoryID == "" {
		return nil
	}
	return []Ref{{Kind: KindCategory, LocalID: *p.CategoryID}}
}

func (p *TaskPatch) RewriteReference(kind Kind, oldID, newID string) bool {
	if kind != KindCategory || p.CategoryID == nil || *p.CategoryID != oldID {
		return false
	}
	p.CategoryID = &newID
	return true
}

func (p *TaskPatch) Wire(resolve RefResolver) (json.RawMessage, error) {
	f := TaskFields{Title: p.Title, Notes: p.Notes, Done: p.Done, DueAt: p.DueAt, Priority: p.Priority}
	if p.CategoryID != nil {
		id, err := resolveRef(resolve, KindCategory, *p.CategoryID)
		if err != nil {
			return nil, err
		}
		f.CategoryID = &id
	}
	return json.Marshal(f)
}

type TimeBlockPatch struct {
	// TaskID set to "" detaches the block from its task.
	TaskID   *string    `json:"task_local_id,omitempty"`
	Label    *string    `json:"label,omitempty"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

func (p *TimeBlockPatch) Kind() Kind { return KindTimeBlock }

func (p *TimeBlockPatch) IsEmpty() bool {
	return p.TaskID == nil && p.Label == nil && p.StartsAt == nil && p.EndsAt == nil
}

func (p *TimeBlockPatch) Merge(newer Patch) error {
	n, ok := newer.(*TimeBlockPatch)
	if !ok {
		return fmt.Errorf("%w: %s into %s", ErrPatchKindMismatch, newer.Kind(), p.Kind())
	}
	overlay(&p.TaskID, n.TaskID)
	overlay(&p.Label, n.Label)
	overlay(&p.StartsAt, n.StartsAt)
	overlay(&p.EndsAt, n.EndsAt)
	return nil
}

func (p *TimeBlockPatch) Apply(e Entity) error {
	b, ok := e.(*TimeBlock)
	if !ok {
		return fmt.Errorf("%w: %s onto %s", ErrPatchKindMismatch, p.Kind(), e.Kind())
	}
	assign(&b.TaskID, p.TaskID)
	assign(&b.Label, p.Label)
	assign(&b.StartsAt, p.StartsAt)
	assign(&b.EndsAt, p.EndsAt)
	return nil
}

func (p *TimeBlockPatch) References() []Ref {
	if p.TaskID == nil || *p.TaskID == "" {
		return nil
	}
	return []Ref{{Kind: KindTask, LocalID: *p.TaskID}}
}

func (p *TimeBlockPatch) RewriteReference(kind Kind, oldID, newID string) bool {
	if kind != KindTask || p.TaskID == nil || *p.TaskID != oldID {
		return false
	}
	p.TaskID = &newID
	return true
}

func (p *TimeBlockPatch) Wire(resolve RefResolver) (json.RawMessage, error) {
	f := TimeBlockFields{Label: p.Label, StartsAt: p.StartsAt, EndsAt: p.EndsAt}
	if p.TaskID != nil {
		id, err := resolveRef(resolve, KindTask, *p.TaskID)
		if err != nil {
			return nil, err
		}
		f.TaskID = &id
	}
	return json.Marshal(f)
}

// SnapshotPatch returns a patch setting every field of e, used as the
// payload of a create.
func SnapshotPatch(e Entity) (Patch, error) {
	switch v := e.(type) {
	case *Category:
		return &CategoryPatch{Name: ptr(v.Name), Color: ptr(v.Color), Icon: ptr(v.Icon)}, nil
	case *Task:
		p := &TaskPatch{
			Title:      ptr(v.Title),
			Notes:      ptr(v.Notes),
			Done:       ptr(v.Done),
			CategoryID: ptr(v.CategoryID),
			Priority:   ptr(v.Priority),
		}
		if v.DueAt != nil {
			p.DueAt = ptr(*v.DueAt)
		}
		return p, nil
	case *TimeBlock:
		return &TimeBlockPatch{
			TaskID:   ptr(v.TaskID),
			Label:    ptr(v.Label),
			StartsAt: ptr(v.StartsAt),
			EndsAt:   ptr(v.EndsAt),
		}, nil
	}
	return nil, ErrUnknownKind
}

// EncodePatch serializes p for outbox storage.
func EncodePatch(p Patch) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// DecodePatch restores a patch of kind k stored by EncodePatch.
func DecodePatch(k Kind, data []byte) (Patch, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p Patch
	switch k {
	case KindCategory:
		p = &CategoryPatch{}
	case KindTask:
		p = &TaskPatch{}
	case KindTimeBlock:
		p = &TimeBlockPatch{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s patch: %w", k, err)
	}
	return p, nil
}

func resolveRef(resolve RefResolver, k Kind, localID string) (int64, error) {
	if localID == "" {
		return 0, nil
	}
	if resolve == nil {
		if id, ok := ParseLinkedID(localID); ok {
			return id, nil
		}
		return 0, nil
	}
	return resolve(k, localID)
}

func overlay[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func assign[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func ptr[T any](v T) *T { return &v }

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
