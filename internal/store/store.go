// Package store defines the persistence interfaces and domain types for
// clipvault. The Repository is the single source of truth for clipboard
// items; the search engine and the cleanup engine sit on top of it.
package store

import (
	"context"
	"time"
)

// Repository is durable CRUD over StoredItem with deduplication by content
// hash, paginated listings, full-text lookups and eviction planning.
//
// Lookups that find nothing return (nil, nil). Mutations on unknown ids
// return a NOT_FOUND error.
type Repository interface {
	// Insert stores a new item and assigns its ID. Callers check FetchByHash
	// first; inserting a duplicate hash fails.
	Insert(ctx context.Context, item *StoredItem) error

	// InsertExternal stores a new item whose content lives in a blob file.
	// The StorageRef is set to BlobName(id, type) and place is called with
	// it before the row commits; if place fails the row is never stored and
	// its error is returned unchanged.
	InsertExternal(ctx context.Context, item *StoredItem, place func(ref string) error) error

	// FetchByHash returns the item with the given content hash.
	FetchByHash(ctx context.Context, hash string) (*StoredItem, error)

	// FetchByID returns the item with the given ID, including inline content.
	FetchByID(ctx context.Context, id int64) (*StoredItem, error)

	// FetchRecent lists items pinned-first, then by last use descending.
	// Inline content is excluded.
	FetchRecent(ctx context.Context, limit, offset int) ([]StoredItem, error)

	// FetchFiltered lists items matching filters in the given sort order.
	FetchFiltered(ctx context.Context, filters Filters, sort SortMode, limit, offset int) ([]StoredItem, error)

	// CountFiltered counts items matching filters.
	CountFiltered(ctx context.Context, filters Filters) (int, error)

	// FetchAllForIndex returns every item without inline content, ordered by ID.
	FetchAllForIndex(ctx context.Context) ([]StoredItem, error)

	// FetchByIDs returns the items with the given IDs in the order given.
	// Missing IDs are skipped.
	FetchByIDs(ctx context.Context, ids []int64) ([]StoredItem, error)

	// SearchFullText returns IDs of items whose text contains phrase,
	// pinned first then by relevance.
	SearchFullText(ctx context.Context, phrase string, filters Filters, limit, offset int) ([]int64, error)

	// UpdateUsage sets the usage columns of one item.
	UpdateUsage(ctx context.Context, id int64, lastUsedAt time.Time, useCount int) error

	// UpdatePin sets the pinned flag of one item.
	UpdatePin(ctx context.Context, id int64, pinned bool) error

	// UpdateMetadata replaces the source application of one item in place.
	UpdateMetadata(ctx context.Context, id int64, appBundleID string) error

	// DeleteItem removes one row. Blob cleanup is the caller's job.
	DeleteItem(ctx context.Context, id int64) error

	// DeleteAllExceptPinned removes every unpinned row and returns what was removed.
	DeleteAllExceptPinned(ctx context.Context) ([]CleanupCandidate, error)

	// PlanCleanupByCount plans the oldest unpinned items beyond maxItems.
	PlanCleanupByCount(ctx context.Context, maxItems int) ([]CleanupCandidate, error)

	// PlanCleanupByAge plans unpinned items last used before cutoff.
	PlanCleanupByAge(ctx context.Context, cutoff time.Time) ([]CleanupCandidate, error)

	// PlanCleanupByTotalSize plans the oldest unpinned inline items until
	// inline bytes drop to maxBytes.
	PlanCleanupByTotalSize(ctx context.Context, maxBytes int64) ([]CleanupCandidate, error)

	// PlanCleanupByExternalSize plans the oldest unpinned external items
	// until blob bytes drop to maxBytes.
	PlanCleanupByExternalSize(ctx context.Context, maxBytes int64) ([]CleanupCandidate, error)

	// DeleteItemsBatchInTransaction removes all ids atomically or none.
	DeleteItemsBatchInTransaction(ctx context.Context, ids []int64) error

	// References returns every referenced blob name and content hash.
	References(ctx context.Context) (*References, error)

	// Stats returns item counts and byte totals per storage tier.
	Stats(ctx context.Context) (*RepoStats, error)

	// Housekeep compacts storage when its write journal exceeds walThreshold
	// bytes. It reports whether any work was done.
	Housekeep(ctx context.Context, walThreshold int64) (bool, error)

	// Path returns the database file location, or "" for non-file repositories.
	Path() string

	// Close releases the underlying connection.
	Close() error
}
