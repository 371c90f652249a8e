package search

import (
	"sort"

	"github.com/yiblet/clipvault/internal/store"
)

// recencyOrder compares a and b on the sort mode's key, newest or most used
// first. decided is false on a tie.
func recencyOrder(a, b *store.StoredItem, mode store.SortMode) (ahead, decided bool) {
	switch mode {
	case store.SortFrequency:
		if a.UseCount != b.UseCount {
			return a.UseCount > b.UseCount, true
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt), true
		}
	case store.SortCreated:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt), true
		}
	default:
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt), true
		}
	}
	return false, false
}

// itemAhead orders unranked items: pinned first, then the sort key, then id.
func itemAhead(mode store.SortMode) func(a, b *store.StoredItem) bool {
	return func(a, b *store.StoredItem) bool {
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if ahead, ok := recencyOrder(a, b, mode); ok {
			return ahead
		}
		return a.ID > b.ID
	}
}

// scoredAhead orders ranked hits: pinned first, then score, then the sort
// key, then id.
func scoredAhead(mode store.SortMode) func(a, b scored) bool {
	return func(a, b scored) bool {
		if a.entry.item.IsPinned != b.entry.item.IsPinned {
			return a.entry.item.IsPinned
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if ahead, ok := recencyOrder(&a.entry.item, &b.entry.item, mode); ok {
			return ahead
		}
		return a.entry.item.ID > b.entry.item.ID
	}
}

func sortItems(items []store.StoredItem, mode store.SortMode) {
	ahead := itemAhead(mode)
	sort.Slice(items, func(i, j int) bool { return ahead(&items[i], &items[j]) })
}
