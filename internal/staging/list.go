package staging

import (
	"fmt"

	"github.com/xtxerr/nrcsync/internal/errors"
)

type identified interface {
	ExternalID() string
}

func indexOf[T identified](items []T, id string) int {
	for i, it := range items {
		if it.ExternalID() == id {
			return i
		}
	}
	return -1
}

func insertAt[T any](items []T, i int, v T) []T {
	items = append(items, v)
	copy(items[i+1:], items[i:])
	items[i] = v
	return items
}

func removeAt[T any](items []T, i int) []T {
	return append(items[:i], items[i+1:]...)
}

// replaceItem puts item into items. With no anchor an existing entry is
// replaced in place and a new one is appended. With an anchor the item
// ends up directly before it.
func replaceItem[T identified](kind string, items []T, item T, beforeID string) ([]T, error) {
	id := item.ExternalID()
	if beforeID != "" && beforeID == id {
		return items, fmt.Errorf("cannot insert %s %q before itself: %w", kind, id, errors.ErrInvalidChange)
	}

	old := indexOf(items, id)
	if beforeID == "" && old >= 0 {
		items[old] = item
		return items, nil
	}

	if beforeID != "" && indexOf(items, beforeID) < 0 {
		return items, errors.NewNotFound(kind, beforeID)
	}
	if old >= 0 {
		items = removeAt(items, old)
	}
	if beforeID == "" {
		return append(items, item), nil
	}
	return insertAt(items, indexOf(items, beforeID), item), nil
}

// moveBefore moves id directly before beforeID, or to the end when
// beforeID is empty.
func moveBefore[T identified](kind string, items []T, id, beforeID string) ([]T, error) {
	from := indexOf(items, id)
	if from < 0 {
		return items, errors.NewNotFound(kind, id)
	}
	if beforeID == id {
		return items, fmt.Errorf("cannot move %s %q before itself: %w", kind, id, errors.ErrInvalidChange)
	}
	if beforeID != "" && indexOf(items, beforeID) < 0 {
		return items, errors.NewNotFound(kind, beforeID)
	}

	item := items[from]
	items = removeAt(items, from)
	if beforeID == "" {
		return append(items, item), nil
	}
	return insertAt(items, indexOf(items, beforeID), item), nil
}

// moveAfter moves id directly after afterID, or to the start when
// afterID is empty.
func moveAfter[T identified](kind string, items []T, id, afterID string) ([]T, error) {
	from := indexOf(items, id)
	if from < 0 {
		return items, errors.NewNotFound(kind, id)
	}
	if afterID == id {
		return items, fmt.Errorf("cannot move %s %q after itself: %w", kind, id, errors.ErrInvalidChange)
	}
	if afterID != "" && indexOf(items, afterID) < 0 {
		return items, errors.NewNotFound(kind, afterID)
	}

	item := items[from]
	items = removeAt(items, from)
	if afterID == "" {
		return insertAt(items, 0, item), nil
	}
	return insertAt(items, indexOf(items, afterID)+1, item), nil
}

func ids[T identified](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ExternalID()
	}
	return out
}
