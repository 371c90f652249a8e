// Package memstore provides an in-memory implementation of store.Repository.
// This implementation is designed for fast unit testing and does not persist data.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/store"
)

// minPhraseRunes matches the shortest phrase the SQLite trigram index resolves.
const minPhraseRunes = 3

// MemoryStore is an in-memory implementation of store.Repository.
// It uses maps for storage and is thread-safe via mutexes.
// Data is not persisted and exists only for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[int64]*store.StoredItem
	byHash map[string]int64
	nextID int64
	closed bool
}

var _ store.Repository = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store for testing.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[int64]*store.StoredItem),
		byHash: make(map[string]int64),
		nextID: 1,
	}
}

// Path returns "" since nothing is stored on disk.
func (m *MemoryStore) Path() string {
	return ""
}

// Close marks the store closed; later calls report NOT_OPEN.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Insert stores a copy of item and assigns its ID.
func (m *MemoryStore) Insert(ctx context.Context, item *store.StoredItem) error {
	return m.insert(item, nil)
}

// InsertExternal stores a copy of item once place has put its blob under
// the id-derived name. A failed place stores nothing.
func (m *MemoryStore) InsertExternal(ctx context.Context, item *store.StoredItem, place func(ref string) error) error {
	return m.insert(item, place)
}

func (m *MemoryStore) insert(item *store.StoredItem, place func(ref string) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NewNotOpen("insert")
	}
	if _, exists := m.byHash[item.ContentHash]; exists {
		return errors.NewInsertFailed("insert", errDuplicate(item.ContentHash))
	}

	id := m.nextID
	m.nextID++
	if place != nil {
		ref := store.BlobName(id, item.Type)
		if err := place(ref); err != nil {
			return err
		}
		item.StorageRef = ref
	}
	item.ID = id

	stored := *item
	stored.RawData = append([]byte(nil), item.RawData...)
	m.items[stored.ID] = &stored
	m.byHash[stored.ContentHash] = stored.ID
	return nil
}

type errDuplicate string

func (e errDuplicate) Error() string {
	return "duplicate content hash " + string(e)
}

// FetchByHash returns the item with hash, without content.
func (m *MemoryStore) FetchByHash(ctx context.Context, hash string) (*store.StoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("fetchByHash")
	}

	id, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	item := listCopy(m.items[id])
	return &item, nil
}

// FetchByID returns the item with id, including content.
func (m *MemoryStore) FetchByID(ctx context.Context, id int64) (*store.StoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("fetchByID")
	}

	entry, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	item := *entry
	item.RawData = append([]byte(nil), entry.RawData...)
	return &item, nil
}

// FetchRecent lists items pinned-first, newest use first.
func (m *MemoryStore) FetchRecent(ctx context.Context, limit, offset int) ([]store.StoredItem, error) {
	return m.FetchFiltered(ctx, store.Filters{}, store.SortRecency, limit, offset)
}

// FetchFiltered lists items matching filters in the requested order.
func (m *MemoryStore) FetchFiltered(ctx context.Context, filters store.Filters, sortMode store.SortMode, limit, offset int) ([]store.StoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("fetchFiltered")
	}

	items := m.collect(func(item *store.StoredItem) bool { return filters.Match(item) })
	sortItems(items, sortMode)
	return paginate(items, limit, offset), nil
}

// CountFiltered counts items matching filters.
func (m *MemoryStore) CountFiltered(ctx context.Context, filters store.Filters) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, errors.NewNotOpen("countFiltered")
	}

	count := 0
	for _, item := range m.items {
		if filters.Match(item) {
			count++
		}
	}
	return count, nil
}

// FetchAllForIndex returns every item ordered by ID.
func (m *MemoryStore) FetchAllForIndex(ctx context.Context) ([]store.StoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("fetchAllForIndex")
	}

	items := m.collect(nil)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// FetchByIDs returns the items with the given IDs in order, skipping missing ones.
func (m *MemoryStore) FetchByIDs(ctx context.Context, ids []int64) ([]store.StoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("fetchByIDs")
	}

	items := make([]store.StoredItem, 0, len(ids))
	for _, id := range ids {
		if entry, ok := m.items[id]; ok {
			items = append(items, listCopy(entry))
		}
	}
	return items, nil
}

// SearchFullText emulates the trigram index with a case-insensitive
// substring match. Hits are ordered pinned first, then newest ID first.
func (m *MemoryStore) SearchFullText(ctx context.Context, phrase string, filters store.Filters, limit, offset int) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("searchFullText")
	}

	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if utf8.RuneCountInString(phrase) < minPhraseRunes {
		return []int64{}, nil
	}

	hits := m.collect(func(item *store.StoredItem) bool {
		return filters.Match(item) && strings.Contains(strings.ToLower(item.PlainText), phrase)
	})
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].IsPinned != hits[j].IsPinned {
			return hits[i].IsPinned
		}
		return hits[i].ID > hits[j].ID
	})
	hits = paginate(hits, limit, offset)

	ids := make([]int64, len(hits))
	for i := range hits {
		ids[i] = hits[i].ID
	}
	return ids, nil
}

// UpdateUsage sets the usage columns of one item.
func (m *MemoryStore) UpdateUsage(ctx context.Context, id int64, lastUsedAt time.Time, useCount int) error {
	return m.update("updateUsage", id, func(item *store.StoredItem) {
		item.LastUsedAt = lastUsedAt
		item.UseCount = useCount
	})
}

// UpdatePin sets the pinned flag of one item.
func (m *MemoryStore) UpdatePin(ctx context.Context, id int64, pinned bool) error {
	return m.update("updatePin", id, func(item *store.StoredItem) {
		item.IsPinned = pinned
	})
}

// UpdateMetadata replaces the source application of one item.
func (m *MemoryStore) UpdateMetadata(ctx context.Context, id int64, appBundleID string) error {
	return m.update("updateMetadata", id, func(item *store.StoredItem) {
		item.AppBundleID = appBundleID
	})
}

func (m *MemoryStore) update(op string, id int64, fn func(*store.StoredItem)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NewNotOpen(op)
	}

	item, ok := m.items[id]
	if !ok {
		return errors.NewNotFound(id)
	}
	fn(item)
	return nil
}

// DeleteItem removes an item by ID.
func (m *MemoryStore) DeleteItem(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NewNotOpen("deleteItem")
	}

	if _, ok := m.items[id]; !ok {
		return errors.NewNotFound(id)
	}
	m.remove(id)
	return nil
}

// DeleteAllExceptPinned removes every unpinned item.
func (m *MemoryStore) DeleteAllExceptPinned(ctx context.Context) ([]store.CleanupCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.NewNotOpen("deleteAllExceptPinned")
	}

	var removed []store.CleanupCandidate
	for id, item := range m.items {
		if item.IsPinned {
			continue
		}
		removed = append(removed, candidate(item))
		m.remove(id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

// PlanCleanupByCount plans the oldest unpinned items beyond maxItems.
func (m *MemoryStore) PlanCleanupByCount(ctx context.Context, maxItems int) ([]store.CleanupCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("planCleanupByCount")
	}

	victims := m.oldestUnpinned(nil)
	excess := len(victims) - max(maxItems, 0)
	if excess <= 0 {
		return nil, nil
	}
	return candidates(victims[:excess]), nil
}

// PlanCleanupByAge plans unpinned items last used before cutoff.
func (m *MemoryStore) PlanCleanupByAge(ctx context.Context, cutoff time.Time) ([]store.CleanupCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("planCleanupByAge")
	}

	return candidates(m.oldestUnpinned(func(item *store.StoredItem) bool {
		return item.LastUsedAt.Before(cutoff)
	})), nil
}

// PlanCleanupByTotalSize plans inline victims until inline bytes fit maxBytes.
func (m *MemoryStore) PlanCleanupByTotalSize(ctx context.Context, maxBytes int64) ([]store.CleanupCandidate, error) {
	return m.planBySize("planCleanupByTotalSize", false, maxBytes)
}

// PlanCleanupByExternalSize plans blob victims until blob bytes fit maxBytes.
func (m *MemoryStore) PlanCleanupByExternalSize(ctx context.Context, maxBytes int64) ([]store.CleanupCandidate, error) {
	return m.planBySize("planCleanupByExternalSize", true, maxBytes)
}

func (m *MemoryStore) planBySize(op string, external bool, maxBytes int64) ([]store.CleanupCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen(op)
	}

	inTier := func(item *store.StoredItem) bool { return item.HasExternalContent() == external }

	var total int64
	for _, item := range m.items {
		if inTier(item) {
			total += item.SizeBytes
		}
	}
	excess := total - max(maxBytes, 0)
	if excess <= 0 {
		return nil, nil
	}

	var plan []store.CleanupCandidate
	var freed int64
	for _, item := range m.oldestUnpinned(inTier) {
		if freed >= excess {
			break
		}
		plan = append(plan, candidate(&item))
		freed += item.SizeBytes
	}
	return plan, nil
}

// DeleteItemsBatchInTransaction removes all ids, or none if any is missing.
func (m *MemoryStore) DeleteItemsBatchInTransaction(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NewNotOpen("deleteItemsBatch")
	}

	for _, id := range ids {
		m.remove(id)
	}
	return nil
}

// References returns every referenced blob name and content hash.
func (m *MemoryStore) References(ctx context.Context) (*store.References, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("references")
	}

	refs := &store.References{
		StorageRefs:   make(map[string]struct{}),
		ContentHashes: make(map[string]struct{}, len(m.items)),
	}
	for _, item := range m.items {
		if item.StorageRef != "" {
			refs.StorageRefs[item.StorageRef] = struct{}{}
		}
		refs.ContentHashes[item.ContentHash] = struct{}{}
	}
	return refs, nil
}

// Stats returns item counts and per-tier byte totals.
func (m *MemoryStore) Stats(ctx context.Context) (*store.RepoStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.NewNotOpen("stats")
	}

	stats := &store.RepoStats{ItemCount: len(m.items)}
	for _, item := range m.items {
		if item.IsPinned {
			stats.PinnedCount++
		}
		if item.HasExternalContent() {
			stats.ExternalBytes += item.SizeBytes
		} else {
			stats.InlineBytes += item.SizeBytes
		}
	}
	return stats, nil
}

// Housekeep is a no-op; there is no journal to compact.
func (m *MemoryStore) Housekeep(ctx context.Context, walThreshold int64) (bool, error) {
	return false, nil
}

// remove deletes id from both maps. Caller holds the write lock.
func (m *MemoryStore) remove(id int64) {
	if item, ok := m.items[id]; ok {
		delete(m.byHash, item.ContentHash)
		delete(m.items, id)
	}
}

// collect copies the items accepted by keep (all when keep is nil), without content.
func (m *MemoryStore) collect(keep func(*store.StoredItem) bool) []store.StoredItem {
	items := make([]store.StoredItem, 0, len(m.items))
	for _, item := range m.items {
		if keep == nil || keep(item) {
			items = append(items, listCopy(item))
		}
	}
	return items
}

// oldestUnpinned returns unpinned items accepted by keep, least recently used first.
func (m *MemoryStore) oldestUnpinned(keep func(*store.StoredItem) bool) []store.StoredItem {
	items := m.collect(func(item *store.StoredItem) bool {
		return !item.IsPinned && (keep == nil || keep(item))
	})
	sort.Slice(items, func(i, j int) bool {
		if !items[i].LastUsedAt.Equal(items[j].LastUsedAt) {
			return items[i].LastUsedAt.Before(items[j].LastUsedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func listCopy(item *store.StoredItem) store.StoredItem {
	c := *item
	c.RawData = nil
	return c
}

func candidate(item *store.StoredItem) store.CleanupCandidate {
	return store.CleanupCandidate{
		ID:          item.ID,
		StorageRef:  item.StorageRef,
		ContentHash: item.ContentHash,
		SizeBytes:   item.SizeBytes,
	}
}

func candidates(items []store.StoredItem) []store.CleanupCandidate {
	if len(items) == 0 {
		return nil
	}
	out := make([]store.CleanupCandidate, len(items))
	for i := range items {
		out[i] = candidate(&items[i])
	}
	return out
}

// sortItems orders items the same way the SQLite store's ORDER BY clauses do.
func sortItems(items []store.StoredItem, mode store.SortMode) {
	sort.Slice(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		switch mode {
		case store.SortFrequency:
			if a.UseCount != b.UseCount {
				return a.UseCount > b.UseCount
			}
			if !a.LastUsedAt.Equal(b.LastUsedAt) {
				return a.LastUsedAt.After(b.LastUsedAt)
			}
		case store.SortCreated:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		default:
			if !a.LastUsedAt.Equal(b.LastUsedAt) {
				return a.LastUsedAt.After(b.LastUsedAt)
			}
		}
		return a.ID > b.ID
	})
}

func paginate(items []store.StoredItem, limit, offset int) []store.StoredItem {
	if offset >= len(items) {
		return []store.StoredItem{}
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
