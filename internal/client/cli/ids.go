package cli

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/planbook/internal/client/models"
)

// shortID is what listings print: the server number for linked ids and
// the first block of the uuid for local ids and outbox items.
func shortID(id string) string {
	tail := id[strings.LastIndex(id, ":")+1:]
	if models.IsEphemeralID(id) || tail == id {
		if i := strings.Index(tail, "-"); i > 0 {
			return tail[:i]
		}
	}
	return tail
}

// resolveID maps what the user typed to one of ids: a full id, an exact
// short id, or an unambiguous prefix of the last id segment.
func resolveID(arg string, ids []string) (string, error) {
	var prefixed []string
	for _, id := range ids {
		tail := id[strings.LastIndex(id, ":")+1:]
		switch {
		case id == arg:
			return id, nil
		case tail == arg || shortID(id) == arg:
			return id, nil
		case strings.HasPrefix(tail, arg):
			prefixed = append(prefixed, id)
		}
	}

	switch len(prefixed) {
	case 0:
		return "", fmt.Errorf("no item matches %q", arg)
	case 1:
		return prefixed[0], nil
	}
	return "", fmt.Errorf("%q is ambiguous: %s", arg, strings.Join(prefixed, ", "))
}

func localIDs[T models.Entity](items []T) []string {
	ids := make([]string, len(items))
	for i, e := range items {
		ids[i] = e.SyncMeta().LocalID
	}
	return ids
}

func serverMark(m *models.Meta) string {
	if m.RemoteID == nil {
		return "-"
	}
	return fmt.Sprint(*m.RemoteID)
}
