// Package tui is the interactive picker: a query line with live search
// over the clipboard history, a result list and a preview pane.
package tui

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/search"
	"github.com/yiblet/clipvault/internal/store"
)

const (
	DefaultPageSize = 50

	// loadAhead is how close to the end of the results the cursor may get
	// before the next page is requested.
	loadAhead = 5
)

// Backend is the part of the store facade the picker drives;
// *history.Manager implements it.
type Backend interface {
	NewStream() *search.Stream
	Pin(ctx context.Context, id int64) error
	Unpin(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// Options configures a Model.
type Options struct {
	Mode     store.SearchMode
	PageSize int
}

type resultsMsg struct {
	req store.SearchRequest
	res *store.SearchResult
}

type searchErrMsg struct {
	req store.SearchRequest
	err error
}

type staleMsg struct{}

type actionMsg struct {
	flash string
	err   error
}

type flashExpiredMsg struct{}

// Model is the picker's bubbletea model
type Model struct {
	ctx     context.Context
	backend Backend
	stream  *search.Stream

	Query   QueryModel
	List    ListModel
	Preview PreviewModel

	Items   []store.StoredItem
	Total   int
	HasMore bool
	loading bool

	Width  int
	Height int
	Flash  string

	pageSize int
	chosen   *store.StoredItem
}

// New creates a picker over backend.
func New(ctx context.Context, backend Backend, opts Options) Model {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return Model{
		ctx:      ctx,
		backend:  backend,
		stream:   backend.NewStream(),
		Query:    NewQueryModel(opts.Mode),
		List:     NewListModel(40, 18),
		Width:    120,
		Height:   24,
		pageSize: pageSize,
	}
}

// Chosen returns the item selected with enter, nil if the picker was dismissed.
func (m Model) Chosen() *store.StoredItem {
	return m.chosen
}

// Init runs the initial empty query.
func (m Model) Init() tea.Cmd {
	return m.search(0)
}

// Current returns the item under the cursor.
func (m Model) Current() *store.StoredItem {
	if m.List.Cursor < 0 || m.List.Cursor >= len(m.Items) {
		return nil
	}
	return &m.Items[m.List.Cursor]
}

// search issues a query for the page at offset on the picker's stream.
func (m Model) search(offset int) tea.Cmd {
	req := m.Query.Request(m.pageSize, offset)
	stream, ctx := m.stream, m.ctx
	return func() tea.Msg {
		res, err := stream.Search(ctx, req)
		switch {
		case stderrors.Is(err, search.ErrStale):
			return staleMsg{}
		case err != nil:
			return searchErrMsg{req: req, err: err}
		}
		return resultsMsg{req: req, res: res}
	}
}

// current reports whether a response belongs to the query now on screen.
func (m Model) current(req store.SearchRequest) bool {
	return req.Query == m.Query.Input && req.Mode == m.Query.Mode
}

// Update handles bubbletea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width, m.Height = msg.Width, msg.Height
		m.List.Update(ResizeListMsg{Width: m.listWidth(), Height: m.bodyHeight()})
		m.Preview.SetItem(m.Current(), m.previewWidth())
		return m, nil

	case resultsMsg:
		if !m.current(msg.req) {
			return m, nil
		}
		m.loading = false
		if msg.req.Offset == 0 {
			m.Items = msg.res.Items
			m.List.Update(GoToTopMsg{})
		} else if msg.req.Offset == len(m.Items) {
			m.Items = append(m.Items, msg.res.Items...)
		}
		m.Total, m.HasMore = msg.res.Total, msg.res.HasMore
		m.List.Clamp(len(m.Items))
		m.Preview.SetItem(m.Current(), m.previewWidth())
		return m, nil

	case searchErrMsg:
		if !m.current(msg.req) {
			return m, nil
		}
		m.loading = false
		m.Query.Error = describeError(msg.err)
		return m, nil

	case staleMsg:
		return m, nil

	case actionMsg:
		if msg.err != nil {
			cmd := m.setFlash("error: "+describeError(msg.err), 3*time.Second)
			return m, cmd
		}
		flash := m.setFlash(msg.flash, 2*time.Second)
		return m, tea.Batch(flash, m.search(0))

	case flashExpiredMsg:
		m.Flash = ""
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyEnter:
		if item := m.Current(); item != nil {
			chosen := *item
			m.chosen = &chosen
		}
		return m, tea.Quit

	case tea.KeyUp, tea.KeyCtrlK:
		m.List.Update(NavigateUpMsg{})
		m.Preview.SetItem(m.Current(), m.previewWidth())
		return m, nil

	case tea.KeyDown, tea.KeyCtrlJ:
		m.List.Update(NavigateDownMsg{MaxIndex: len(m.Items) - 1})
		m.Preview.SetItem(m.Current(), m.previewWidth())
		cmd := m.maybeLoadMore()
		return m, cmd

	case tea.KeyTab:
		return m.updateQuery(CycleModeMsg{})

	case tea.KeyBackspace:
		return m.updateQuery(DeleteCharMsg{})

	case tea.KeyCtrlU:
		return m.updateQuery(ClearQueryMsg{})

	case tea.KeySpace:
		return m.updateQuery(InsertTextMsg{Text: " "})

	case tea.KeyRunes:
		return m.updateQuery(InsertTextMsg{Text: string(msg.Runes)})

	case tea.KeyCtrlP:
		return m, m.togglePin()

	case tea.KeyCtrlD:
		return m, m.deleteCurrent()
	}
	return m, nil
}

func (m Model) updateQuery(msg QueryMsg) (tea.Model, tea.Cmd) {
	if !m.Query.Update(msg) {
		return m, nil
	}
	m.loading = true
	return m, m.search(0)
}

func (m *Model) maybeLoadMore() tea.Cmd {
	if !m.HasMore || m.loading || m.List.Cursor < len(m.Items)-loadAhead {
		return nil
	}
	m.loading = true
	return m.search(len(m.Items))
}

func (m Model) togglePin() tea.Cmd {
	item := m.Current()
	if item == nil {
		return nil
	}
	id, pinned := item.ID, item.IsPinned
	backend, ctx := m.backend, m.ctx
	return func() tea.Msg {
		if pinned {
			return actionMsg{flash: "unpinned", err: backend.Unpin(ctx, id)}
		}
		return actionMsg{flash: "pinned", err: backend.Pin(ctx, id)}
	}
}

func (m Model) deleteCurrent() tea.Cmd {
	item := m.Current()
	if item == nil {
		return nil
	}
	id := item.ID
	backend, ctx := m.backend, m.ctx
	return func() tea.Msg {
		return actionMsg{flash: "deleted", err: backend.Delete(ctx, id)}
	}
}

func (m *Model) setFlash(message string, d time.Duration) tea.Cmd {
	m.Flash = message
	return tea.Tick(d, func(time.Time) tea.Msg { return flashExpiredMsg{} })
}

func describeError(err error) string {
	switch errors.KindOf(err) {
	case errors.KindInvalidQuery:
		return "invalid pattern"
	case errors.KindTimeout:
		return "search timed out"
	}
	return err.Error()
}

func (m Model) listWidth() int {
	return max(m.Width*2/5, 20)
}

func (m Model) previewWidth() int {
	return max(m.Width-m.listWidth()-6, 10)
}

// bodyHeight leaves room for the query line, status line and borders.
func (m Model) bodyHeight() int {
	return max(m.Height-6, 3)
}

var (
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// View renders the picker.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(promptStyle.Render("> "))
	b.WriteString(m.Query.Input)
	b.WriteString(dimStyle.Render(fmt.Sprintf("  [%s] %s", m.Query.Mode, m.countLabel())))
	if m.Query.Error != "" {
		b.WriteString("  " + errorStyle.Render(m.Query.Error))
	}
	b.WriteByte('\n')

	height := m.bodyHeight()
	left := paneStyle.Width(m.listWidth()).Height(height).Render(ListView(m.List, m.Items))
	right := paneStyle.Width(m.previewWidth()).Height(height).Render(PreviewView(m.Preview, m.Current(), height))
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	b.WriteByte('\n')

	if m.Flash != "" {
		b.WriteString(m.Flash)
	} else {
		b.WriteString(dimStyle.Render("enter copy · tab mode · ctrl+p pin · ctrl+d delete · esc quit"))
	}
	return b.String()
}

func (m Model) countLabel() string {
	switch {
	case m.Total >= 0:
		return fmt.Sprintf("%d of %d", len(m.Items), m.Total)
	case m.HasMore:
		return fmt.Sprintf("%d+", len(m.Items))
	}
	return fmt.Sprintf("%d", len(m.Items))
}
