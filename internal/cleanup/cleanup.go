// Package cleanup enforces clipvault's retention limits. Each pass plans
// victims through the repository, removes their blob files and then deletes
// the rows in one transaction.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yiblet/clipvault/internal/store"
)

// Limits bounds retained history. A zero value disables the corresponding pass.
type Limits struct {
	MaxItems           int
	MaxDaysAge         int
	MaxDBBytes         int64
	MaxExternalBytes   int64
	WALCheckpointBytes int64
}

// Blobs removes files belonging to evicted items.
type Blobs interface {
	DeleteBlobs(ctx context.Context, names []string) int
	RemoveThumbnails(ctx context.Context, hashes []string) int
}

// Pass names one eviction policy.
type Pass string

const (
	PassCount        Pass = "count"
	PassAge          Pass = "age"
	PassInlineSize   Pass = "inline_size"
	PassExternalSize Pass = "external_size"
)

// PassResult records what one pass removed.
type PassResult struct {
	Pass       Pass
	Deleted    int
	FreedBytes int64
}

// Report summarizes a Run.
type Report struct {
	Passes     []PassResult
	DeletedIDs []int64
	Housekept  bool
}

// Deleted returns the total number of rows removed.
func (r *Report) Deleted() int {
	return len(r.DeletedIDs)
}

// Options configures an Engine.
type Options struct {
	Logger *log.Logger
	Now    func() time.Time

	// Writer is the store's write lock. It is held while a pass plans and
	// while it deletes rows, never while files are removed.
	Writer sync.Locker

	// OnEvicted runs with Writer held right after a pass deletes its rows.
	OnEvicted func(ids []int64)
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// Engine runs the eviction policy chain
type Engine struct {
	repo  store.Repository
	blobs Blobs
	log   *log.Logger
	now   func() time.Time

	writer    sync.Locker
	onEvicted func(ids []int64)

	mu     sync.RWMutex
	limits Limits
}

// New creates a cleanup engine with the given limits.
func New(repo store.Repository, blobs Blobs, limits Limits, opts Options) *Engine {
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	writer := opts.Writer
	if writer == nil {
		writer = noLock{}
	}
	onEvicted := opts.OnEvicted
	if onEvicted == nil {
		onEvicted = func([]int64) {}
	}
	return &Engine{
		repo:      repo,
		blobs:     blobs,
		log:       lg.WithPrefix("cleanup"),
		now:       now,
		writer:    writer,
		onEvicted: onEvicted,
		limits:    limits,
	}
}

// SetLimits replaces the limits used by subsequent runs.
func (e *Engine) SetLimits(limits Limits) {
	e.mu.Lock()
	e.limits = limits
	e.mu.Unlock()
}

// Limits returns the current limits.
func (e *Engine) Limits() Limits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits
}

type planner func(ctx context.Context) ([]store.CleanupCandidate, error)

// Run applies count, age, inline size and external size passes in order,
// then compacts the database if its journal has grown past the threshold.
// Passes with nothing to do are no-ops, so Run is idempotent.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	limits := e.Limits()
	report := &Report{}

	passes := []struct {
		pass    Pass
		enabled bool
		plan    planner
	}{
		{PassCount, limits.MaxItems > 0, func(ctx context.Context) ([]store.CleanupCandidate, error) {
			return e.repo.PlanCleanupByCount(ctx, limits.MaxItems)
		}},
		{PassAge, limits.MaxDaysAge > 0, func(ctx context.Context) ([]store.CleanupCandidate, error) {
			cutoff := e.now().Add(-time.Duration(limits.MaxDaysAge) * 24 * time.Hour)
			return e.repo.PlanCleanupByAge(ctx, cutoff)
		}},
		{PassInlineSize, limits.MaxDBBytes > 0, func(ctx context.Context) ([]store.CleanupCandidate, error) {
			return e.repo.PlanCleanupByTotalSize(ctx, limits.MaxDBBytes)
		}},
		{PassExternalSize, limits.MaxExternalBytes > 0, func(ctx context.Context) ([]store.CleanupCandidate, error) {
			return e.repo.PlanCleanupByExternalSize(ctx, limits.MaxExternalBytes)
		}},
	}

	for _, p := range passes {
		if !p.enabled {
			continue
		}
		result, ids, err := e.runPass(ctx, p.pass, p.plan)
		if err != nil {
			return report, err
		}
		if result.Deleted > 0 {
			report.Passes = append(report.Passes, result)
			report.DeletedIDs = append(report.DeletedIDs, ids...)
		}
	}

	if limits.WALCheckpointBytes > 0 {
		ran, err := e.repo.Housekeep(ctx, limits.WALCheckpointBytes)
		if err != nil {
			e.log.Warn("housekeeping failed", "err", err)
		}
		report.Housekept = ran
	}

	if report.Deleted() > 0 {
		e.log.Info("cleanup finished", "deleted", report.Deleted(), "passes", len(report.Passes))
	}
	return report, nil
}

// runPass plans victims, removes their files, then deletes their rows.
// Only planning and the row delete hold the writer lock.
func (e *Engine) runPass(ctx context.Context, pass Pass, plan planner) (PassResult, []int64, error) {
	result := PassResult{Pass: pass}

	e.writer.Lock()
	victims, err := plan(ctx)
	e.writer.Unlock()
	if err != nil {
		return result, nil, err
	}
	if len(victims) == 0 {
		return result, nil, nil
	}

	ids, refs, hashes := Split(victims)
	e.blobs.DeleteBlobs(ctx, refs)

	e.writer.Lock()
	err = e.repo.DeleteItemsBatchInTransaction(ctx, ids)
	if err == nil {
		e.onEvicted(ids)
	}
	e.writer.Unlock()
	if err != nil {
		return result, nil, err
	}
	e.blobs.RemoveThumbnails(ctx, hashes)

	for _, v := range victims {
		result.FreedBytes += v.SizeBytes
	}
	result.Deleted = len(ids)
	e.log.Debug("pass done", "pass", pass, "deleted", result.Deleted, "freed", result.FreedBytes)
	return result, ids, nil
}

// Split separates candidates into ids, blob names and content hashes.
func Split(victims []store.CleanupCandidate) (ids []int64, refs []string, hashes []string) {
	ids = make([]int64, 0, len(victims))
	hashes = make([]string, 0, len(victims))
	for _, v := range victims {
		ids = append(ids, v.ID)
		hashes = append(hashes, v.ContentHash)
		if v.StorageRef != "" {
			refs = append(refs, v.StorageRef)
		}
	}
	return ids, refs, hashes
}
