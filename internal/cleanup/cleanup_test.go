package cleanup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yiblet/clipvault/internal/store"
	"github.com/yiblet/clipvault/internal/store/memstore"
)

var now = time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC)

type fakeBlobs struct {
	mu         sync.Mutex
	blobs      []string
	thumbnails []string
}

func (f *fakeBlobs) DeleteBlobs(ctx context.Context, names []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs = append(f.blobs, names...)
	return len(names)
}

func (f *fakeBlobs) RemoveThumbnails(ctx context.Context, hashes []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbnails = append(f.thumbnails, hashes...)
	return len(hashes)
}

func insert(t *testing.T, repo store.Repository, hash string, age time.Duration, size int64, ref string) *store.StoredItem {
	t.Helper()
	item := &store.StoredItem{
		Type:        store.TypeText,
		ContentHash: hash,
		PlainText:   hash,
		CreatedAt:   now.Add(-age),
		LastUsedAt:  now.Add(-age),
		UseCount:    1,
		SizeBytes:   size,
		StorageRef:  ref,
	}
	require.NoError(t, repo.Insert(context.Background(), item))
	return item
}

func remainingHashes(t *testing.T, repo store.Repository) []string {
	t.Helper()
	items, err := repo.FetchAllForIndex(context.Background())
	require.NoError(t, err)
	var hashes []string
	for _, item := range items {
		hashes = append(hashes, item.ContentHash)
	}
	sort.Strings(hashes)
	return hashes
}

func newEngine(repo store.Repository, blobs Blobs, limits Limits) *Engine {
	return New(repo, blobs, limits, Options{Now: func() time.Time { return now }})
}

func TestRun_AgePolicy(t *testing.T) {
	repo := memstore.NewMemoryStore()
	day := 24 * time.Hour
	insert(t, repo, "ten", 10*day, 1, "")
	insert(t, repo, "five", 5*day, 1, "")
	insert(t, repo, "one", day, 1, "")

	report, err := newEngine(repo, &fakeBlobs{}, Limits{MaxDaysAge: 7}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted())
	assert.Equal(t, []string{"five", "one"}, remainingHashes(t, repo))

	// 7 days is the bound, so a tighter limit removes the five-day item too
	report, err = newEngine(repo, &fakeBlobs{}, Limits{MaxDaysAge: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted())
	assert.Equal(t, []string{"one"}, remainingHashes(t, repo))
}

func TestRun_CountBoundExemptsPinned(t *testing.T) {
	repo := memstore.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		insert(t, repo, fmt.Sprintf("h%02d", i), time.Duration(10-i)*time.Hour, 1, "")
	}
	pinned := insert(t, repo, "pinned", 100*time.Hour, 1, "")
	require.NoError(t, repo.UpdatePin(ctx, pinned.ID, true))

	engine := newEngine(repo, &fakeBlobs{}, Limits{MaxItems: 3})
	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Deleted())
	require.Len(t, report.Passes, 1)
	assert.Equal(t, PassCount, report.Passes[0].Pass)

	count, err := repo.CountFiltered(ctx, store.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 4, count, "three unpinned plus the pinned item")
	assert.Contains(t, remainingHashes(t, repo), "pinned")

	// A second run is a no-op
	report, err = engine.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Deleted())
	assert.Empty(t, report.Passes)
}

func TestRun_SizePolicyRespectsPin(t *testing.T) {
	repo := memstore.NewMemoryStore()
	ctx := context.Background()
	big := insert(t, repo, "big", 5*time.Hour, 500, "")
	insert(t, repo, "small", time.Hour, 100, "")
	require.NoError(t, repo.UpdatePin(ctx, big.ID, true))

	engine := newEngine(repo, &fakeBlobs{}, Limits{MaxDBBytes: 200})
	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, remainingHashes(t, repo), "pinned survives size pressure")
	assert.Equal(t, 1, report.Deleted())

	insert(t, repo, "newer", 0, 50, "")
	require.NoError(t, repo.UpdatePin(ctx, big.ID, false))
	_, err = engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"newer"}, remainingHashes(t, repo), "unpinned item becomes evictable")
}

func TestRun_ExternalSizeDeletesBlobsFirst(t *testing.T) {
	repo := memstore.NewMemoryStore()
	blobs := &fakeBlobs{}
	insert(t, repo, "old", 3*time.Hour, 1000, "1.png")
	insert(t, repo, "mid", 2*time.Hour, 1000, "2.png")
	insert(t, repo, "inline", time.Hour, 10, "")

	report, err := newEngine(repo, blobs, Limits{MaxExternalBytes: 1500}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1.png"}, blobs.blobs)
	assert.Equal(t, []string{"old"}, blobs.thumbnails)
	require.Len(t, report.Passes, 1)
	assert.Equal(t, PassExternalSize, report.Passes[0].Pass)
	assert.Equal(t, int64(1000), report.Passes[0].FreedBytes)
	assert.Equal(t, []string{"inline", "mid"}, remainingHashes(t, repo))
}

func TestRun_DisabledLimitsDoNothing(t *testing.T) {
	repo := memstore.NewMemoryStore()
	insert(t, repo, "a", 1000*time.Hour, 1<<30, "")

	report, err := newEngine(repo, &fakeBlobs{}, Limits{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Deleted())
	assert.False(t, report.Housekept)
}

func TestSetLimits(t *testing.T) {
	engine := newEngine(memstore.NewMemoryStore(), &fakeBlobs{}, Limits{MaxItems: 5})
	engine.SetLimits(Limits{MaxItems: 9})
	assert.Equal(t, 9, engine.Limits().MaxItems)
}

func TestSplit(t *testing.T) {
	ids, refs, hashes := Split([]store.CleanupCandidate{
		{ID: 1, StorageRef: "1.bin", ContentHash: "a"},
		{ID: 2, ContentHash: "b"},
	})
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Equal(t, []string{"1.bin"}, refs)
	assert.Equal(t, []string{"a", "b"}, hashes)
}

type gatedBlobs struct {
	fakeBlobs
	started chan struct{}
	release chan struct{}
}

func (g *gatedBlobs) DeleteBlobs(ctx context.Context, names []string) int {
	close(g.started)
	<-g.release
	return g.fakeBlobs.DeleteBlobs(ctx, names)
}

func TestRun_FileRemovalDoesNotHoldWriter(t *testing.T) {
	repo := memstore.NewMemoryStore()
	insert(t, repo, "old", 3*time.Hour, 10, "1.txt")
	insert(t, repo, "new", time.Hour, 10, "2.txt")

	var writer sync.Mutex
	var evicted []int64
	blobs := &gatedBlobs{started: make(chan struct{}), release: make(chan struct{})}
	engine := New(repo, blobs, Limits{MaxItems: 1}, Options{
		Now:    func() time.Time { return now },
		Writer: &writer,
		OnEvicted: func(ids []int64) {
			assert.False(t, writer.TryLock(), "rows must be deleted under the writer lock")
			evicted = append(evicted, ids...)
		},
	})

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background())
		done <- err
	}()

	<-blobs.started
	require.True(t, writer.TryLock(), "writer lock must be free while files are removed")
	writer.Unlock()
	close(blobs.release)

	require.NoError(t, <-done)
	assert.Len(t, evicted, 1)
	assert.Equal(t, []string{"new"}, remainingHashes(t, repo))
	assert.Equal(t, []string{"1.txt"}, blobs.blobs)
}
