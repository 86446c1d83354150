// Package models holds the server-side record model of the planbook API.
package models

import (
	"encoding/json"
	"time"
)

// Kind names a record collection.
type Kind string

const (
	KindCategory  Kind = "category"
	KindTask      Kind = "task"
	KindTimeBlock Kind = "time_block"
)

var collections = map[string]Kind{
	"categories":  KindCategory,
	"tasks":       KindTask,
	"time-blocks": KindTimeBlock,
}

// KindFromCollection maps a route segment ("tasks") to its kind.
func KindFromCollection(c string) (Kind, bool) {
	k, ok := collections[c]
	return k, ok
}

// References maps the reference fields of k to the kind they point at.
// A reference value of 0 means "none".
func (k Kind) References() map[string]Kind {
	switch k {
	case KindTask:
		return map[string]Kind{"category_id": KindCategory}
	case KindTimeBlock:
		return map[string]Kind{"task_id": KindTask}
	}
	return nil
}

// Required lists the fields a new record of kind k must carry.
func (k Kind) Required() []string {
	switch k {
	case KindCategory:
		return []string{"name"}
	case KindTask:
		return []string{"title"}
	case KindTimeBlock:
		return []string{"starts_at", "ends_at"}
	}
	return nil
}

// Record is one stored planner entity. Fields is the JSON object the
// client sent, merged key by key on update. UpdatedAt is assigned on
// every write and only grows within a user's collection.
type Record struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"-"`
	Kind      Kind            `json:"kind"`
	Fields    json.RawMessage `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}
