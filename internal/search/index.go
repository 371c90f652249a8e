package search

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/yiblet/clipvault/internal/store"
)

// indexedItem is the ranking projection of one StoredItem. Slots hold
// pointers; a patch swaps in a new value so scanners never see a torn item.
type indexedItem struct {
	item  store.StoredItem
	lower string
}

// index is the full-history fuzzy index: a slot arena with tombstones, an
// id to slot map and per-rune postings of ascending slot numbers. Postings
// may reference tombstoned slots; scans skip them.
type index struct {
	slots    []*indexedItem
	slotOf   map[int64]int32
	postings map[rune][]int32
}

func newIndex(items []store.StoredItem) *index {
	idx := &index{
		slots:    make([]*indexedItem, 0, len(items)),
		slotOf:   make(map[int64]int32, len(items)),
		postings: make(map[rune][]int32),
	}
	for i := range items {
		idx.add(items[i])
	}
	return idx
}

// live returns the number of non-tombstoned slots.
func (idx *index) live() int {
	return len(idx.slotOf)
}

// add appends item to a new slot. Slot numbers only grow, so postings
// stay sorted.
func (idx *index) add(item store.StoredItem) {
	item.RawData = nil
	entry := &indexedItem{item: item, lower: strings.ToLower(item.PlainText)}
	slot := int32(len(idx.slots))
	idx.slots = append(idx.slots, entry)
	idx.slotOf[item.ID] = slot

	seen := make(map[rune]struct{})
	for _, r := range entry.lower {
		if unicode.IsSpace(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		idx.postings[r] = append(idx.postings[r], slot)
	}
}

// patch replaces the mutable fields of an indexed item. It reports false
// when the id is unknown or the text changed, in which case the postings
// are wrong and the index must be rebuilt.
func (idx *index) patch(item store.StoredItem) bool {
	slot, ok := idx.slotOf[item.ID]
	if !ok {
		return false
	}
	old := idx.slots[slot]
	if old.item.PlainText != item.PlainText {
		return false
	}
	next := *old
	next.item.LastUsedAt = item.LastUsedAt
	next.item.UseCount = item.UseCount
	next.item.IsPinned = item.IsPinned
	next.item.AppBundleID = item.AppBundleID
	idx.slots[slot] = &next
	return true
}

// setPinned flips the pin flag of id in place.
func (idx *index) setPinned(id int64, pinned bool) bool {
	slot, ok := idx.slotOf[id]
	if !ok {
		return false
	}
	next := *idx.slots[slot]
	next.item.IsPinned = pinned
	idx.slots[slot] = &next
	return true
}

// remove tombstones the slot of id.
func (idx *index) remove(id int64) {
	if slot, ok := idx.slotOf[id]; ok {
		idx.slots[slot] = nil
		delete(idx.slotOf, id)
	}
}

// candidates intersects the postings of every rune, rarest first. A query
// with no indexable runes yields every live slot.
func (idx *index) candidates(runes []rune) []int32 {
	if len(runes) == 0 {
		all := make([]int32, 0, idx.live())
		for slot, entry := range idx.slots {
			if entry != nil {
				all = append(all, int32(slot))
			}
		}
		return all
	}

	lists := make([][]int32, 0, len(runes))
	for _, r := range runes {
		list := idx.postings[r]
		if len(list) == 0 {
			return nil
		}
		lists = append(lists, list)
	}
	sort.Slice(lists, func(i, j int) bool { return len(lists[i]) < len(lists[j]) })

	out := append([]int32(nil), lists[0]...)
	for _, list := range lists[1:] {
		out = intersect(out, list)
		if len(out) == 0 {
			return nil
		}
	}
	return out
}

// intersect keeps the values of a (sorted) also present in b (sorted), in place.
func intersect(a, b []int32) []int32 {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// scored is one ranked hit.
type scored struct {
	entry *indexedItem
	score int
}

// scoreFunc scores a lowercased text.
type scoreFunc func(text string) (int, bool)

// scan scores slots and keeps the best k. It returns the kept hits best
// first and the number of matches seen. ctx is polled so a timed-out
// search stops promptly.
func (idx *index) scan(ctx context.Context, slots []int32, filters store.Filters, score scoreFunc, k int, better func(a, b scored) bool) ([]scored, int, error) {
	top := NewTopK(k, better)
	matches := 0
	for n, slot := range slots {
		if n&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, matches, err
			}
		}
		entry := idx.slots[slot]
		if entry == nil || !filters.Match(&entry.item) {
			continue
		}
		s, ok := score(entry.lower)
		if !ok {
			continue
		}
		matches++
		top.Push(scored{entry: entry, score: s})
	}
	return top.Sorted(), matches, nil
}

// pinnedAmong returns the slots in slots whose item is pinned.
func (idx *index) pinnedAmong(slots []int32) []int32 {
	var out []int32
	for _, slot := range slots {
		if entry := idx.slots[slot]; entry != nil && entry.item.IsPinned {
			out = append(out, slot)
		}
	}
	return out
}

// slotsFor maps ids to live slots, dropping unknown ids, sorted and unique.
func (idx *index) slotsFor(ids []int64, extra []int32) []int32 {
	seen := make(map[int32]struct{}, len(ids)+len(extra))
	out := make([]int32, 0, len(ids)+len(extra))
	addSlot := func(slot int32) {
		if _, ok := seen[slot]; ok {
			return
		}
		seen[slot] = struct{}{}
		out = append(out, slot)
	}
	for _, id := range ids {
		if slot, ok := idx.slotOf[id]; ok {
			addSlot(slot)
		}
	}
	for _, slot := range extra {
		addSlot(slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
