// Package search answers clipboard history queries in four modes. Exact
// queries go to the full-text index or, when short, to a cache of recent
// items; regex queries scan the recent cache; fuzzy queries scan an
// in-memory character index of the whole history, optionally narrowed by
// the full-text index first.
package search

import (
	"context"
	stderrors "errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/store"
)

const (
	DefaultLimit                  = 50
	DefaultRecentCacheSize        = 500
	DefaultRecentCacheTTL         = 30 * time.Second
	DefaultShortQueryLength       = 2
	DefaultPrefilterMinCandidates = 5000
	DefaultPrefilterLimit         = 2000
	DefaultTimeout                = 2 * time.Second
	DefaultIndexBuildTimeout      = time.Minute

	// minPhraseRunes is the shortest phrase the full-text index can match.
	minPhraseRunes = 3
)

// Options configures an Engine. Zero values take the defaults above.
type Options struct {
	Logger *log.Logger
	Now    func() time.Time

	RecentCacheSize  int
	RecentCacheTTL   time.Duration
	ShortQueryLength int

	// PrefilterMinCandidates is the candidate count above which a first-page
	// single-word fuzzy query is narrowed by the full-text index. Negative
	// disables the prefilter.
	PrefilterMinCandidates int
	PrefilterLimit         int

	Timeout time.Duration

	// IndexBuildTimeout bounds a fuzzy index build. Builds outlive the query
	// that started them, so a slow first build is not thrown away when that
	// query times out.
	IndexBuildTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.RecentCacheSize <= 0 {
		o.RecentCacheSize = DefaultRecentCacheSize
	}
	if o.RecentCacheTTL == 0 {
		o.RecentCacheTTL = DefaultRecentCacheTTL
	}
	if o.ShortQueryLength <= 0 {
		o.ShortQueryLength = DefaultShortQueryLength
	}
	if o.PrefilterMinCandidates == 0 {
		o.PrefilterMinCandidates = DefaultPrefilterMinCandidates
	}
	if o.PrefilterLimit <= 0 {
		o.PrefilterLimit = DefaultPrefilterLimit
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.IndexBuildTimeout <= 0 {
		o.IndexBuildTimeout = DefaultIndexBuildTimeout
	}
}

// Engine is the search engine. Reads may run concurrently with the
// mutation hooks (Added, Updated, Pinned, Removed, Invalidate), which the
// store facade calls after every successful write.
type Engine struct {
	repo   store.Repository
	opts   Options
	log    *log.Logger
	recent *recentCache

	mu     sync.RWMutex
	idx    *index
	gen    uint64
	builds singleflight.Group
}

// New creates an engine reading from repo.
func New(repo store.Repository, opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		repo:   repo,
		opts:   opts,
		log:    opts.Logger.WithPrefix("search"),
		recent: newRecentCache(repo, opts.RecentCacheSize, opts.RecentCacheTTL, opts.Now),
	}
}

// Search runs one query under the engine's timeout.
func (e *Engine) Search(ctx context.Context, req store.SearchRequest) (*store.SearchResult, error) {
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	req.Offset = max(req.Offset, 0)

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	res, err := e.dispatch(ctx, req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.NewTimeout("search", err)
		}
		return nil, err
	}
	return res, nil
}

func (e *Engine) dispatch(ctx context.Context, req store.SearchRequest) (*store.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return e.fetchAll(ctx, req)
	}

	switch req.Mode {
	case store.ModeExact, "":
		n := utf8.RuneCountInString(query)
		if n <= e.opts.ShortQueryLength || n < minPhraseRunes {
			lowered := strings.ToLower(query)
			return e.searchRecent(ctx, req, func(item *store.StoredItem) bool {
				return strings.Contains(strings.ToLower(item.PlainText), lowered)
			})
		}
		return e.searchFullText(ctx, req, query)
	case store.ModeRegex:
		re, err := regexp.Compile("(?i)" + query)
		if err != nil {
			return nil, errors.NewInvalidQuery("invalid regular expression: " + err.Error())
		}
		return e.searchRecent(ctx, req, func(item *store.StoredItem) bool {
			return re.MatchString(item.PlainText)
		})
	case store.ModeFuzzy:
		return e.searchFuzzy(ctx, req, query, FuzzyScore)
	case store.ModeFuzzyPlus:
		return e.searchFuzzy(ctx, req, query, FuzzyPlusScore)
	}
	return nil, errors.NewInvalidQuery("unknown search mode: " + string(req.Mode))
}

// fetchAll serves empty queries straight from the repository.
func (e *Engine) fetchAll(ctx context.Context, req store.SearchRequest) (*store.SearchResult, error) {
	items, err := e.repo.FetchFiltered(ctx, req.Filters, sortMode(req.Sort), req.Limit+1, req.Offset)
	if err != nil {
		return nil, err
	}
	total, err := e.repo.CountFiltered(ctx, req.Filters)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > req.Limit
	if hasMore {
		items = items[:req.Limit]
	}
	return &store.SearchResult{Items: items, Total: total, HasMore: hasMore}, nil
}

// searchRecent filters the recent-items cache. The total is exact when the
// cache holds the whole history or the page is the last one.
func (e *Engine) searchRecent(ctx context.Context, req store.SearchRequest, match func(*store.StoredItem) bool) (*store.SearchResult, error) {
	snap, err := e.recent.get(ctx)
	if err != nil {
		return nil, err
	}

	var hits []store.StoredItem
	for i := range snap.items {
		item := &snap.items[i]
		if req.Filters.Match(item) && match(item) {
			hits = append(hits, *item)
		}
	}
	sortItems(hits, sortMode(req.Sort))

	end := req.Offset + req.Limit
	hasMore := len(hits) > end
	total := len(hits)
	if hasMore && !snap.complete {
		total = store.TotalUnknown
	}
	return &store.SearchResult{Items: page(hits, req.Offset, req.Limit), Total: total, HasMore: hasMore}, nil
}

// searchFullText fetches ranked ids from the full-text index, then the rows.
func (e *Engine) searchFullText(ctx context.Context, req store.SearchRequest, query string) (*store.SearchResult, error) {
	ids, err := e.repo.SearchFullText(ctx, query, req.Filters, req.Limit+1, req.Offset)
	if err != nil {
		return nil, err
	}

	hasMore := len(ids) > req.Limit
	if hasMore {
		ids = ids[:req.Limit]
	}
	items, err := e.repo.FetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	total := req.Offset + len(ids)
	switch {
	case hasMore:
		total = store.TotalUnknown
	case len(ids) == 0 && req.Offset > 0:
		// the offset ran past the last match; fewer than Offset rows match
		all, err := e.repo.SearchFullText(ctx, query, req.Filters, req.Offset, 0)
		if err != nil {
			return nil, err
		}
		total = len(all)
	}
	return &store.SearchResult{Items: items, Total: total, HasMore: hasMore}, nil
}

// searchFuzzy scores index candidates and keeps the best offset+limit+1.
func (e *Engine) searchFuzzy(ctx context.Context, req store.SearchRequest, query string, score func(q, t string) (int, bool)) (*store.SearchResult, error) {
	idx, err := e.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(query)
	scoreText := func(text string) (int, bool) { return score(lowered, text) }
	k := req.Offset + req.Limit + 1
	better := scoredAhead(sortMode(req.Sort))

	e.mu.RLock()
	candidates := idx.candidates(queryRunes(lowered))
	var pinned []int32
	prefilter := e.usePrefilter(req, lowered, len(candidates))
	if prefilter {
		pinned = idx.pinnedAmong(candidates)
	}
	e.mu.RUnlock()

	if prefilter {
		res, ok, err := e.prefiltered(ctx, req, query, idx, pinned, scoreText, k, better)
		if err != nil {
			return nil, err
		}
		if ok {
			return res, nil
		}
	}

	e.mu.RLock()
	hits, matches, err := idx.scan(ctx, candidates, req.Filters, scoreText, k, better)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	return &store.SearchResult{
		Items:   toItems(page(hits, req.Offset, req.Limit)),
		Total:   matches,
		HasMore: matches > req.Offset+req.Limit,
	}, nil
}

// usePrefilter reports whether a fuzzy query is narrowed by full-text
// search first: first page, one ASCII word long enough for the index, and
// more candidates than the threshold.
func (e *Engine) usePrefilter(req store.SearchRequest, lowered string, candidates int) bool {
	if req.ForceFullRescan || req.Offset != 0 || e.opts.PrefilterMinCandidates < 0 {
		return false
	}
	if candidates <= e.opts.PrefilterMinCandidates {
		return false
	}
	if strings.ContainsFunc(lowered, unicode.IsSpace) || !isASCII(lowered) {
		return false
	}
	return len(lowered) >= minPhraseRunes
}

// prefiltered scores the full-text top hits plus every pinned candidate.
// ok is false when that set cannot fill the page, and the caller falls back
// to a full scan.
func (e *Engine) prefiltered(ctx context.Context, req store.SearchRequest, query string, idx *index, pinned []int32, score scoreFunc, k int, better func(a, b scored) bool) (*store.SearchResult, bool, error) {
	ids, err := e.repo.SearchFullText(ctx, query, req.Filters, e.opts.PrefilterLimit, 0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, err
		}
		e.log.Warn("full-text prefilter failed; scanning all candidates", "err", err)
		return nil, false, nil
	}

	e.mu.RLock()
	slots := idx.slotsFor(ids, pinned)
	hits, _, err := idx.scan(ctx, slots, req.Filters, score, k, better)
	e.mu.RUnlock()
	if err != nil {
		return nil, false, err
	}
	if len(hits) < k {
		return nil, false, nil
	}

	return &store.SearchResult{
		Items:   toItems(page(hits, req.Offset, req.Limit)),
		Total:   store.TotalUnknown,
		HasMore: true,
	}, true, nil
}

// ensureIndex returns the current index, building it if needed. Concurrent
// callers share one build. A build that raced with a mutation is returned
// to its callers but not installed.
//
// The build runs detached from ctx under IndexBuildTimeout; ctx only bounds
// how long this caller waits for it.
func (e *Engine) ensureIndex(ctx context.Context) (*index, error) {
	e.mu.RLock()
	idx, gen := e.idx, e.gen
	e.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	ch := e.builds.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.IndexBuildTimeout)
		defer cancel()

		start := time.Now()
		items, err := e.repo.FetchAllForIndex(buildCtx)
		if err != nil {
			return nil, err
		}
		built := newIndex(items)

		e.mu.Lock()
		if e.gen == gen {
			e.idx = built
		}
		e.mu.Unlock()

		e.log.Debug("index built", "items", len(items), "runes", len(built.postings), "took", time.Since(start))
		return built, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*index), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Warm builds the fuzzy index ahead of the first query.
func (e *Engine) Warm(ctx context.Context) error {
	_, err := e.ensureIndex(ctx)
	return err
}

// IndexedItems returns the number of live items in the fuzzy index, or -1
// when it is not built.
func (e *Engine) IndexedItems() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.idx == nil {
		return -1
	}
	return e.idx.live()
}

// Added records a newly inserted item.
func (e *Engine) Added(item store.StoredItem) {
	e.mutate(func(idx *index) bool {
		if _, exists := idx.slotOf[item.ID]; exists {
			return idx.patch(item)
		}
		idx.add(item)
		return true
	})
}

// Updated records changed usage, pin or metadata of an existing item. A
// changed text marks the index stale.
func (e *Engine) Updated(item store.StoredItem) {
	e.mutate(func(idx *index) bool { return idx.patch(item) })
}

// Pinned records a pin flag change.
func (e *Engine) Pinned(id int64, pinned bool) {
	e.mutate(func(idx *index) bool { return idx.setPinned(id, pinned) })
}

// Removed tombstones deleted items.
func (e *Engine) Removed(ids ...int64) {
	e.mutate(func(idx *index) bool {
		for _, id := range ids {
			idx.remove(id)
		}
		return true
	})
}

// Invalidate drops both caches; the index is rebuilt on next use.
func (e *Engine) Invalidate() {
	e.mutate(func(*index) bool { return false })
}

// mutate applies fn to the live index, discarding the index when fn
// reports it can no longer be patched. The recent cache is always cleared.
func (e *Engine) mutate(fn func(*index) bool) {
	e.mu.Lock()
	e.gen++
	if e.idx != nil && !fn(e.idx) {
		e.idx = nil
	}
	e.mu.Unlock()
	e.recent.invalidate()
}

func sortMode(m store.SortMode) store.SortMode {
	if m == "" {
		return store.SortRecency
	}
	return m
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func toItems(hits []scored) []store.StoredItem {
	items := make([]store.StoredItem, len(hits))
	for i, h := range hits {
		items[i] = h.entry.item
	}
	return items
}
