package search

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	"github.com/yiblet/clipvault/internal/store"
)

// ErrStale is returned by Stream.Search when a newer query on the same
// stream was issued before this one finished.
var ErrStale = stderrors.New("search superseded by a newer query")

// Stream is one logical sequence of queries, such as a search box. Only the
// result of the latest query is ever published.
type Stream struct {
	engine  *Engine
	version atomic.Uint64
}

// NewStream creates a query stream over the engine.
func (e *Engine) NewStream() *Stream {
	return &Stream{engine: e}
}

// Search runs req and returns ErrStale if another Search on the stream
// started in the meantime.
func (s *Stream) Search(ctx context.Context, req store.SearchRequest) (*store.SearchResult, error) {
	v := s.version.Add(1)
	res, err := s.engine.Search(ctx, req)
	if s.version.Load() != v {
		return nil, ErrStale
	}
	return res, err
}

// Version returns the token of the latest query issued on the stream.
func (s *Stream) Version() uint64 {
	return s.version.Load()
}
