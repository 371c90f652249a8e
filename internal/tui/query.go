package tui

import (
	"github.com/yiblet/clipvault/internal/store"
)

// QueryMsg represents messages that the query line handles
type QueryMsg interface {
	isQueryMsg()
}

type InsertTextMsg struct {
	Text string
}

func (InsertTextMsg) isQueryMsg() {}

type DeleteCharMsg struct{}

func (DeleteCharMsg) isQueryMsg() {}

type ClearQueryMsg struct{}

func (ClearQueryMsg) isQueryMsg() {}

type CycleModeMsg struct{}

func (CycleModeMsg) isQueryMsg() {}

// modeCycle is the tab order of search modes.
var modeCycle = []store.SearchMode{store.ModeFuzzy, store.ModeExact, store.ModeFuzzyPlus, store.ModeRegex}

// QueryModel holds the search input line
type QueryModel struct {
	Input string
	Mode  store.SearchMode
	Error string // last query error, shown until the query changes
}

// NewQueryModel creates a query line in the given mode
func NewQueryModel(mode store.SearchMode) QueryModel {
	if mode == "" {
		mode = store.ModeFuzzy
	}
	return QueryModel{Mode: mode}
}

// Update applies msg and reports whether the query changed.
func (q *QueryModel) Update(msg QueryMsg) bool {
	before := *q
	switch m := msg.(type) {
	case InsertTextMsg:
		q.Input += m.Text
	case DeleteCharMsg:
		if runes := []rune(q.Input); len(runes) > 0 {
			q.Input = string(runes[:len(runes)-1])
		}
	case ClearQueryMsg:
		q.Input = ""
	case CycleModeMsg:
		q.Mode = nextMode(q.Mode)
	}

	changed := q.Input != before.Input || q.Mode != before.Mode
	if changed {
		q.Error = ""
	}
	return changed
}

func nextMode(mode store.SearchMode) store.SearchMode {
	for i, m := range modeCycle {
		if m == mode {
			return modeCycle[(i+1)%len(modeCycle)]
		}
	}
	return modeCycle[0]
}

// Request builds the search request for one page.
func (q *QueryModel) Request(limit, offset int) store.SearchRequest {
	return store.SearchRequest{
		Query:  q.Input,
		Mode:   q.Mode,
		Limit:  limit,
		Offset: offset,
	}
}
