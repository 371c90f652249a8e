package search

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/store"
	"github.com/yiblet/clipvault/internal/store/memstore"
)

var base = time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo store.Repository, texts ...string) []*store.StoredItem {
	t.Helper()
	var items []*store.StoredItem
	for i, text := range texts {
		ts := base.Add(time.Duration(i) * time.Minute)
		item := &store.StoredItem{
			Type:        store.TypeText,
			ContentHash: fmt.Sprintf("hash-%d-%s", i, text),
			PlainText:   text,
			CreatedAt:   ts,
			LastUsedAt:  ts,
			UseCount:    1,
			SizeBytes:   int64(len(text)),
		}
		require.NoError(t, repo.Insert(context.Background(), item))
		items = append(items, item)
	}
	return items
}

func texts(items []store.StoredItem) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].PlainText
	}
	return out
}

func newTestEngine(repo store.Repository, opts Options) *Engine {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	return New(repo, opts)
}

func TestSearch_EmptyQueryFetchesAll(t *testing.T) {
	repo := memstore.NewMemoryStore()
	for i := 0; i < 15; i++ {
		seed(t, repo, fmt.Sprintf("item %d", i))
	}
	engine := newTestEngine(repo, Options{})

	res, err := engine.Search(context.Background(), store.SearchRequest{Mode: store.ModeExact, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Items, 10)
	assert.True(t, res.HasMore)
	assert.Equal(t, 15, res.Total)

	res, err = engine.Search(context.Background(), store.SearchRequest{Mode: store.ModeFuzzy, Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Len(t, res.Items, 5)
	assert.False(t, res.HasMore)
	assert.Equal(t, 15, res.Total)
}

func TestSearch_ExactShortUsesRecentCache(t *testing.T) {
	repo := memstore.NewMemoryStore()
	seed(t, repo, "Go is fun", "golang", "rust")
	engine := newTestEngine(repo, Options{})
	ctx := context.Background()

	res, err := engine.Search(ctx, store.SearchRequest{Query: "go", Mode: store.ModeExact})
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "Go is fun"}, texts(res.Items))
	assert.Equal(t, 2, res.Total)
	assert.False(t, res.HasMore)

	// mutations clear the cache before the next query
	added := seed(t, repo, "gopher")[0]
	engine.Added(*added)
	res, err = engine.Search(ctx, store.SearchRequest{Query: "go", Mode: store.ModeExact})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
}

func TestSearch_ExactLongUsesFullText(t *testing.T) {
	repo := memstore.NewMemoryStore()
	seed(t, repo, "hello world", "say hello", "goodbye", "hello again")
	engine := newTestEngine(repo, Options{})

	res, err := engine.Search(context.Background(), store.SearchRequest{Query: "hello", Mode: store.ModeExact, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.True(t, res.HasMore)
	assert.Equal(t, store.TotalUnknown, res.Total)

	res, err = engine.Search(context.Background(), store.SearchRequest{Query: "hello", Mode: store.ModeExact, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
	assert.False(t, res.HasMore)
	assert.Equal(t, 3, res.Total)
}

func TestSearch_ExactOffsetPastLastMatch(t *testing.T) {
	repo := memstore.NewMemoryStore()
	seed(t, repo, "hello world", "say hello", "goodbye", "hello again")
	engine := newTestEngine(repo, Options{})

	res, err := engine.Search(context.Background(), store.SearchRequest{Query: "hello", Mode: store.ModeExact, Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.False(t, res.HasMore)
	assert.Equal(t, 3, res.Total, "an exhausted page still reports the exact match count")

	res, err = engine.Search(context.Background(), store.SearchRequest{Query: "hello", Mode: store.ModeExact, Limit: 5, Offset: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 3, res.Total)
}

func TestSearch_Regex(t *testing.T) {
	repo := memstore.NewMemoryStore()
	seed(t, repo, "ERROR: disk full", "warning: low memory", "error 42")
	engine := newTestEngine(repo, Options{})
	ctx := context.Background()

	res, err := engine.Search(ctx, store.SearchRequest{Query: `^error\b`, Mode: store.ModeRegex})
	require.NoError(t, err)
	assert.Equal(t, []string{"error 42", "ERROR: disk full"}, texts(res.Items))

	_, err = engine.Search(ctx, store.SearchRequest{Query: "([a-z", Mode: store.ModeRegex})
	assert.True(t, errors.Is(err, errors.KindInvalidQuery), "got %v", err)
}

func TestSearch_FuzzyRanking(t *testing.T) {
	repo := memstore.NewMemoryStore()
	items := seed(t, repo, "hello world", "wide hand", "hardware dump", "nothing here")
	engine := newTestEngine(repo, Options{})
	ctx := context.Background()

	res, err := engine.Search(ctx, store.SearchRequest{Query: "hwd", Mode: store.ModeFuzzy})
	require.NoError(t, err)
	assert.Equal(t, []string{"hardware dump", "hello world"}, texts(res.Items))
	assert.Equal(t, 2, res.Total)

	res, err = engine.Search(ctx, store.SearchRequest{Query: "wdh", Mode: store.ModeFuzzy})
	require.NoError(t, err)
	assert.Equal(t, []string{"wide hand"}, texts(res.Items))

	// pinned hits sort first regardless of score
	require.NoError(t, repo.UpdatePin(ctx, items[0].ID, true))
	engine.Pinned(items[0].ID, true)
	res, err = engine.Search(ctx, store.SearchRequest{Query: "hwd", Mode: store.ModeFuzzy})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Items[0].PlainText)
	assert.True(t, res.Items[0].IsPinned)
}

func TestSearch_FuzzyPlus(t *testing.T) {
	repo := memstore.NewMemoryStore()
	seed(t, repo, "git commit -m fix", "git push origin", "commit log")
	engine := newTestEngine(repo, Options{})

	res, err := engine.Search(context.Background(), store.SearchRequest{Query: "git cmt", Mode: store.ModeFuzzyPlus})
	require.NoError(t, err)
	assert.Equal(t, []string{"git commit -m fix"}, texts(res.Items))
}

func TestSearch_FuzzyPaginationIsConsistent(t *testing.T) {
	repo := memstore.NewMemoryStore()
	for i := 0; i < 37; i++ {
		seed(t, repo, fmt.Sprintf("match %02d %s", i, string(rune('a'+i%26))))
	}
	engine := newTestEngine(repo, Options{})
	ctx := context.Background()

	full, err := engine.Search(ctx, store.SearchRequest{Query: "mtc", Mode: store.ModeFuzzy, Limit: 100})
	require.NoError(t, err)
	require.Len(t, full.Items, 37)
	assert.False(t, full.HasMore)

	var paged []store.StoredItem
	for offset := 0; ; offset += 8 {
		res, err := engine.Search(ctx, store.SearchRequest{Query: "mtc", Mode: store.ModeFuzzy, Limit: 8, Offset: offset})
		require.NoError(t, err)
		paged = append(paged, res.Items...)
		assert.Equal(t, offset+8 < 37, res.HasMore, "offset %d", offset)
		if !res.HasMore {
			break
		}
	}
	assert.Equal(t, texts(full.Items), texts(paged))
}

func TestSearch_IndexIncrementalUpdates(t *testing.T) {
	repo := memstore.NewMemoryStore()
	items := seed(t, repo, "alpha", "beta")
	engine := newTestEngine(repo, Options{})
	ctx := context.Background()

	assert.Equal(t, -1, engine.IndexedItems())
	require.NoError(t, engine.Warm(ctx))
	assert.Equal(t, 2, engine.IndexedItems())

	added := seed(t, repo, "alphabet")[0]
	engine.Added(*added)
	assert.Equal(t, 3, engine.IndexedItems(), "insert patches the live index")

	res, err := engine.Search(ctx, store.SearchRequest{Query: "alp", Mode: store.ModeFuzzy})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	require.NoError(t, repo.DeleteItem(ctx, items[0].ID))
	engine.Removed(items[0].ID)
	res, err = engine.Search(ctx, store.SearchRequest{Query: "alp", Mode: store.ModeFuzzy})
	require.NoError(t, err)
	assert.Equal(t, []string{"alphabet"}, texts(res.Items))

	bumped := *items[1]
	bumped.UseCount = 9
	engine.Updated(bumped)
	assert.Equal(t, 2, engine.IndexedItems(), "usage patch keeps the index")

	bumped.PlainText = "changed"
	engine.Updated(bumped)
	assert.Equal(t, -1, engine.IndexedItems(), "text change drops the index")
}

func TestSearch_Prefilter(t *testing.T) {
	repo := memstore.NewMemoryStore()
	var all []string
	for i := 0; i < 20; i++ {
		all = append(all, fmt.Sprintf("alpha %02d", i))
	}
	all = append(all, "a-l-p pinned")
	items := seed(t, repo, all...)
	pinned := items[len(items)-1]
	ctx := context.Background()
	require.NoError(t, repo.UpdatePin(ctx, pinned.ID, true))

	engine := newTestEngine(repo, Options{PrefilterMinCandidates: 5, PrefilterLimit: 3})

	res, err := engine.Search(ctx, store.SearchRequest{Query: "alp", Mode: store.ModeFuzzy, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, store.TotalUnknown, res.Total)
	assert.True(t, res.HasMore)
	require.Len(t, res.Items, 2)
	assert.Equal(t, pinned.ID, res.Items[0].ID, "pinned candidates survive the prefilter")

	res, err = engine.Search(ctx, store.SearchRequest{Query: "alp", Mode: store.ModeFuzzy, Limit: 2, ForceFullRescan: true})
	require.NoError(t, err)
	assert.Equal(t, 21, res.Total)

	// a prefilter too small to fill the page falls back to a full scan
	res, err = engine.Search(ctx, store.SearchRequest{Query: "alp", Mode: store.ModeFuzzy, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 21, res.Total)
	assert.Len(t, res.Items, 10)
}

type blockingRepo struct {
	store.Repository
}

func (r *blockingRepo) FetchAllForIndex(ctx context.Context) ([]store.StoredItem, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSearch_Timeout(t *testing.T) {
	engine := New(&blockingRepo{Repository: memstore.NewMemoryStore()}, Options{
		Timeout:           20 * time.Millisecond,
		IndexBuildTimeout: 50 * time.Millisecond,
	})

	_, err := engine.Search(context.Background(), store.SearchRequest{Query: "abc", Mode: store.ModeFuzzy})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindTimeout), "got %v", err)
	assert.True(t, errors.Retryable(err))
}

// slowRepo delays index loads past the query timeout but honors its context.
type slowRepo struct {
	store.Repository
	delay time.Duration
}

func (r *slowRepo) FetchAllForIndex(ctx context.Context) ([]store.StoredItem, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Repository.FetchAllForIndex(ctx)
}

func TestSearch_IndexBuildOutlivesTimedOutQuery(t *testing.T) {
	repo := memstore.NewMemoryStore()
	seed(t, repo, "kubectl get pods", "git status")
	engine := New(&slowRepo{Repository: repo, delay: 100 * time.Millisecond}, Options{
		Timeout:           20 * time.Millisecond,
		IndexBuildTimeout: 5 * time.Second,
	})

	_, err := engine.Search(context.Background(), store.SearchRequest{Query: "kgp", Mode: store.ModeFuzzy})
	require.True(t, errors.Is(err, errors.KindTimeout), "got %v", err)

	require.Eventually(t, func() bool { return engine.IndexedItems() == 2 }, 2*time.Second, 10*time.Millisecond,
		"the build keeps going after the query that started it gives up")

	res, err := engine.Search(context.Background(), store.SearchRequest{Query: "kgp", Mode: store.ModeFuzzy})
	require.NoError(t, err)
	assert.Equal(t, []string{"kubectl get pods"}, texts(res.Items))
}

type gatedRepo struct {
	store.Repository
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}
}

func (r *gatedRepo) FetchFiltered(ctx context.Context, filters store.Filters, sort store.SortMode, limit, offset int) ([]store.StoredItem, error) {
	if r.calls.Add(1) == 1 {
		close(r.started)
		<-r.gate
	}
	return r.Repository.FetchFiltered(ctx, filters, sort, limit, offset)
}

func TestStream_DiscardsStaleResults(t *testing.T) {
	mem := memstore.NewMemoryStore()
	seed(t, mem, "one", "two")
	repo := &gatedRepo{Repository: mem, started: make(chan struct{}), gate: make(chan struct{})}
	stream := newTestEngine(repo, Options{}).NewStream()
	ctx := context.Background()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = stream.Search(ctx, store.SearchRequest{})
	}()

	<-repo.started
	res, err := stream.Search(ctx, store.SearchRequest{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	close(repo.gate)
	wg.Wait()
	assert.ErrorIs(t, firstErr, ErrStale)
	assert.Equal(t, uint64(2), stream.Version())
}
