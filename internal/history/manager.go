// Package history is the clipvault store facade. It composes the
// repository, blob storage, cleanup and search behind ingest, query and
// mutation calls, serializes every write and keeps the search caches in
// step with each one.
package history

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/yiblet/clipvault/internal/blobfs"
	"github.com/yiblet/clipvault/internal/cleanup"
	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/search"
	"github.com/yiblet/clipvault/internal/store"
)

const (
	DefaultInlineThreshold = 64 * 1024
)

// Options configures a Manager.
type Options struct {
	Logger *log.Logger
	Now    func() time.Time

	// InlineThreshold is the payload size at and above which content is
	// written to a blob file.
	InlineThreshold int64

	Limits cleanup.Limits

	// CleanupPerMinute bounds how often ingest triggers background
	// maintenance. Zero disables automatic maintenance.
	CleanupPerMinute int

	Search search.Options
}

// Manager is the store facade
type Manager struct {
	repo    store.Repository
	blobs   *blobfs.FS
	search  *search.Engine
	cleaner *cleanup.Engine
	log     *log.Logger
	now     func() time.Time

	inlineThreshold int64
	limiter         *rate.Limiter

	// mu serializes all writes
	mu sync.Mutex
	// evictMu serializes cleanup runs and keeps pin changes out of a pass
	// whose files are being removed. Taken before mu.
	evictMu sync.Mutex
	bg      sync.WaitGroup
}

// NewManager wires the facade over an open repository and blob storage.
func NewManager(repo store.Repository, blobs *blobfs.FS, opts Options) *Manager {
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	threshold := opts.InlineThreshold
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}

	searchOpts := opts.Search
	if searchOpts.Logger == nil {
		searchOpts.Logger = lg
	}

	m := &Manager{
		repo:            repo,
		blobs:           blobs,
		search:          search.New(repo, searchOpts),
		log:             lg.WithPrefix("history"),
		now:             now,
		inlineThreshold: threshold,
	}
	m.cleaner = cleanup.New(repo, blobs, opts.Limits, cleanup.Options{
		Logger: lg,
		Now:    now,
		Writer: &m.mu,
		OnEvicted: func(ids []int64) {
			m.search.Removed(ids...)
		},
	})
	if opts.CleanupPerMinute > 0 {
		m.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.CleanupPerMinute)), 1)
	}
	return m
}

// Ingest stores a capture. A capture whose hash is already stored bumps
// that item's usage instead of inserting a second row.
func (m *Manager) Ingest(ctx context.Context, content store.ClipboardContent) (*store.StoredItem, error) {
	if err := content.Validate(); err != nil {
		m.discardSpool(content.Payload)
		return nil, errors.NewInsertFailed("ingest", err)
	}

	m.mu.Lock()
	item, err := m.ingestLocked(ctx, content)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.maybeMaintain()
	return item, nil
}

func (m *Manager) ingestLocked(ctx context.Context, content store.ClipboardContent) (*store.StoredItem, error) {
	now := m.now()

	existing, err := m.repo.FetchByHash(ctx, content.ContentHash)
	if err != nil {
		m.discardSpool(content.Payload)
		return nil, err
	}
	if existing != nil {
		m.discardSpool(content.Payload)
		return m.touchLocked(ctx, existing, now, content.AppBundleID)
	}

	item := &store.StoredItem{
		Type:        content.Type,
		ContentHash: content.ContentHash,
		PlainText:   content.PlainText,
		AppBundleID: content.AppBundleID,
		CreatedAt:   now,
		LastUsedAt:  now,
		UseCount:    1,
		SizeBytes:   content.SizeBytes,
	}

	external := m.placeExternally(content)
	if external {
		if err := m.insertExternal(ctx, item, content.Payload); err != nil {
			return nil, err
		}
	} else {
		if content.Payload.Kind == store.PayloadInline {
			item.RawData = content.Payload.Data
		}
		if err := m.repo.Insert(ctx, item); err != nil {
			m.discardSpool(content.Payload)
			return nil, err
		}
	}

	item.RawData = nil
	m.search.Added(*item)
	m.log.Debug("ingested", "id", item.ID, "type", item.Type, "size", item.SizeBytes, "external", external)
	return item, nil
}

// placeExternally applies the placement rule, decided once per item:
// spooled files always become blobs, in-memory payloads when large.
func (m *Manager) placeExternally(content store.ClipboardContent) bool {
	switch content.Payload.Kind {
	case store.PayloadFile:
		return true
	case store.PayloadInline:
		return int64(len(content.Payload.Data)) >= m.inlineThreshold
	case store.PayloadNone:
		return false
	}
	return false
}

func (m *Manager) insertExternal(ctx context.Context, item *store.StoredItem, payload store.Payload) error {
	var staged string
	var err error
	if payload.Kind == store.PayloadFile {
		staged, err = m.blobs.StageFile(payload.Path)
	} else {
		staged, err = m.blobs.StageData(payload.Data)
	}
	if err != nil {
		m.discardSpool(payload)
		return err
	}

	err = m.repo.InsertExternal(ctx, item, func(ref string) error {
		return m.blobs.CommitBlob(staged, ref)
	})
	if err != nil {
		// After a successful rename the file is gone from staged and only
		// the orphan sweep can reclaim it.
		m.blobs.DiscardStaged(staged)
		return err
	}
	return nil
}

// discardSpool removes a spooled payload that will not be stored.
func (m *Manager) discardSpool(payload store.Payload) {
	if payload.Kind != store.PayloadFile {
		return
	}
	if err := os.Remove(payload.Path); err != nil && !os.IsNotExist(err) {
		m.log.Warn("failed to remove spooled file", "path", payload.Path, "err", err)
	}
}

// touchLocked records another use of an existing item. The source app is
// filled in only when the item has none.
func (m *Manager) touchLocked(ctx context.Context, item *store.StoredItem, at time.Time, app string) (*store.StoredItem, error) {
	item.UseCount++
	item.LastUsedAt = at
	if err := m.repo.UpdateUsage(ctx, item.ID, item.LastUsedAt, item.UseCount); err != nil {
		return nil, err
	}
	if app != "" && item.AppBundleID == "" {
		if err := m.repo.UpdateMetadata(ctx, item.ID, app); err != nil {
			return nil, err
		}
		item.AppBundleID = app
	}
	item.RawData = nil
	m.search.Updated(*item)
	return item, nil
}

// FetchRecent lists items pinned-first, newest use first.
func (m *Manager) FetchRecent(ctx context.Context, limit, offset int) ([]store.StoredItem, error) {
	return m.repo.FetchRecent(ctx, limit, offset)
}

// Search runs one query.
func (m *Manager) Search(ctx context.Context, req store.SearchRequest) (*store.SearchResult, error) {
	return m.search.Search(ctx, req)
}

// NewStream opens a query stream whose superseded results are discarded.
func (m *Manager) NewStream() *search.Stream {
	return m.search.NewStream()
}

// Get returns one item including inline content.
func (m *Manager) Get(ctx context.Context, id int64) (*store.StoredItem, error) {
	item, err := m.repo.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.NewNotFound(id)
	}
	return item, nil
}

// ReadContent returns an item's payload from the row or its blob file.
func (m *Manager) ReadContent(item *store.StoredItem) ([]byte, error) {
	if item.HasExternalContent() {
		return m.blobs.ReadBlob(item.StorageRef)
	}
	if item.RawData != nil {
		return item.RawData, nil
	}
	return []byte(item.PlainText), nil
}

// Use copies an item out: it bumps usage and returns the payload.
func (m *Manager) Use(ctx context.Context, id int64) (*store.StoredItem, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := m.ReadContent(item)
	if err != nil {
		return nil, nil, err
	}
	touched, err := m.touchLocked(ctx, item, m.now(), "")
	if err != nil {
		return nil, nil, err
	}
	return touched, data, nil
}

// Touch replaces an item's source application in place.
func (m *Manager) Touch(ctx context.Context, id int64, appBundleID string) (*store.StoredItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.repo.UpdateMetadata(ctx, id, appBundleID); err != nil {
		return nil, err
	}
	item, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item.RawData = nil
	m.search.Updated(*item)
	return item, nil
}

// Pin exempts an item from eviction and sorts it first.
func (m *Manager) Pin(ctx context.Context, id int64) error {
	return m.setPinned(ctx, id, true)
}

// Unpin clears the pinned flag.
func (m *Manager) Unpin(ctx context.Context, id int64) error {
	return m.setPinned(ctx, id, false)
}

func (m *Manager) setPinned(ctx context.Context, id int64, pinned bool) error {
	m.evictMu.Lock()
	defer m.evictMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.repo.UpdatePin(ctx, id, pinned); err != nil {
		return err
	}
	m.search.Pinned(id, pinned)
	return nil
}

// Delete removes one item, its blob file and its thumbnail.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.repo.FetchByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return errors.NewNotFound(id)
	}

	if item.HasExternalContent() {
		if err := m.blobs.RemoveBlob(item.StorageRef); err != nil {
			m.log.Warn("failed to remove blob", "id", id, "ref", item.StorageRef, "err", err)
		}
	}
	if err := m.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	m.blobs.RemoveThumbnails(ctx, []string{item.ContentHash})
	m.search.Removed(id)
	return nil
}

// ClearAllExceptPinned removes every unpinned item and returns how many
// were removed. Rows go first; leftover files are reclaimed by the orphan
// sweep if a removal fails.
func (m *Manager) ClearAllExceptPinned(ctx context.Context) (int, error) {
	m.mu.Lock()
	removed, err := m.repo.DeleteAllExceptPinned(ctx)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	ids, refs, hashes := cleanup.Split(removed)
	m.search.Removed(ids...)
	m.mu.Unlock()

	m.blobs.DeleteBlobs(ctx, refs)
	m.blobs.RemoveThumbnails(ctx, hashes)
	return len(ids), nil
}

// StorageStats returns the item count and total content bytes.
func (m *Manager) StorageStats(ctx context.Context) (*store.StorageStats, error) {
	stats, err := m.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &store.StorageStats{
		ItemCount: stats.ItemCount,
		SizeBytes: stats.InlineBytes + stats.ExternalBytes,
	}, nil
}

// DetailedStorageStats breaks storage down into database and blob bytes.
func (m *Manager) DetailedStorageStats(ctx context.Context) (*store.DetailedStorageStats, error) {
	stats, err := m.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	dbBytes := m.blobs.DBBytes()
	return &store.DetailedStorageStats{
		ItemCount:     stats.ItemCount,
		DBBytes:       dbBytes,
		ExternalBytes: stats.ExternalBytes,
		TotalBytes:    dbBytes + stats.ExternalBytes,
		DBPath:        m.repo.Path(),
	}, nil
}

// RunMaintenance applies the retention limits now. The writer lock is
// held only while each pass plans and deletes rows, so ingest is not held
// up by file removal.
func (m *Manager) RunMaintenance(ctx context.Context) (*cleanup.Report, error) {
	m.evictMu.Lock()
	defer m.evictMu.Unlock()
	return m.cleaner.Run(ctx)
}

// SweepOrphans removes blob and thumbnail files no item references.
func (m *Manager) SweepOrphans(ctx context.Context) (blobfs.SweepReport, error) {
	m.mu.Lock()
	refs, err := m.repo.References(ctx)
	m.mu.Unlock()
	if err != nil {
		return blobfs.SweepReport{}, err
	}
	return m.blobs.SweepOrphans(ctx, refs)
}

// SetLimits replaces the retention limits, e.g. after a config reload.
func (m *Manager) SetLimits(limits cleanup.Limits) {
	m.cleaner.SetLimits(limits)
}

// WarmIndex builds the fuzzy index ahead of the first fuzzy query.
func (m *Manager) WarmIndex(ctx context.Context) error {
	return m.search.Warm(ctx)
}

// maybeMaintain starts a background maintenance pass when the rate limiter allows.
func (m *Manager) maybeMaintain() {
	if m.limiter == nil || !m.limiter.Allow() {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if _, err := m.RunMaintenance(context.Background()); err != nil {
			m.log.Warn("background maintenance failed", "err", err)
		}
	}()
}

// Close waits for background maintenance and closes the repository.
func (m *Manager) Close() error {
	m.bg.Wait()
	return m.repo.Close()
}
