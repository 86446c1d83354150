// Package models defines the planbook client data model: the synchronized
// entities (tasks, categories, time blocks), their typed patches, the outbox
// item that carries a pending mutation, and the record shape returned by the
// Remote API.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind names a synchronized entity type.
type Kind string

const (
	KindCategory  Kind = "category"
	KindTask      Kind = "task"
	KindTimeBlock Kind = "time_block"
)

// Kinds lists every kind with referenced kinds first, which is also the
// order in which they are pulled.
var Kinds = []Kind{KindCategory, KindTask, KindTimeBlock}

var ErrUnknownKind = errors.New("unknown entity kind")

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindCategory, KindTask, KindTimeBlock:
		return true
	}
	return false
}

// Collection is the Remote API path segment for k.
func (k Kind) Collection() string {
	switch k {
	case KindCategory:
		return "categories"
	case KindTask:
		return "tasks"
	case KindTimeBlock:
		return "time-blocks"
	}
	return ""
}

// Dependents lists the kinds holding a foreign key to k.
func (k Kind) Dependents() []Kind {
	switch k {
	case KindCategory:
		return []Kind{KindTask}
	case KindTask:
		return []Kind{KindTimeBlock}
	}
	return nil
}

func (k Kind) prefix() string {
	switch k {
	case KindCategory:
		return "c"
	case KindTask:
		return "t"
	case KindTimeBlock:
		return "b"
	}
	return "x"
}

const (
	localTag  = "local"
	serverTag = "server"
)

// NewLocalID returns an ephemeral id for an entity created on this device,
// e.g. "t:local:5f0c…".
func NewLocalID(k Kind) string {
	return k.prefix() + ":" + localTag + ":" + uuid.NewString()
}

// LinkedID is the local id of an entity the server knows as remoteID. It is a
// pure function of (kind, remoteID) so every device, and every pull of the
// same record, arrives at the same id.
func LinkedID(k Kind, remoteID int64) string {
	return k.prefix() + ":" + serverTag + ":" + strconv.FormatInt(remoteID, 10)
}

// ParseLinkedID recovers the remote id from an id built by LinkedID.
func ParseLinkedID(id string) (int64, bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[1] != serverTag {
		return 0, false
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// IsEphemeralID reports whether id was minted locally and never linked.
func IsEphemeralID(id string) bool {
	parts := strings.SplitN(id, ":", 3)
	return len(parts) == 3 && parts[1] == localTag
}
