package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yiblet/clipvault/internal/history"
	"github.com/yiblet/clipvault/internal/store"
)

// ListMsg represents messages that the result list handles
type ListMsg interface {
	isListMsg()
}

type NavigateUpMsg struct{}

func (NavigateUpMsg) isListMsg() {}

type NavigateDownMsg struct {
	MaxIndex int // Maximum valid index for bounds checking
}

func (NavigateDownMsg) isListMsg() {}

type GoToTopMsg struct{}

func (GoToTopMsg) isListMsg() {}

type ResizeListMsg struct {
	Width  int
	Height int
}

func (ResizeListMsg) isListMsg() {}

// ListModel holds the cursor and scroll window over the results
type ListModel struct {
	Cursor int
	Top    int // first visible row
	Width  int
	Height int // visible rows
}

// NewListModel creates a list of the given size
func NewListModel(width, height int) ListModel {
	return ListModel{Width: width, Height: height}
}

// Update applies msg, keeping the cursor inside the visible window.
func (l *ListModel) Update(msg ListMsg) {
	switch m := msg.(type) {
	case NavigateUpMsg:
		if l.Cursor > 0 {
			l.Cursor--
		}
	case NavigateDownMsg:
		if l.Cursor < m.MaxIndex {
			l.Cursor++
		}
	case GoToTopMsg:
		l.Cursor = 0
	case ResizeListMsg:
		l.Width = m.Width
		l.Height = m.Height
	}
	l.scroll()
}

// Clamp keeps the cursor valid after the result set shrank to n rows.
func (l *ListModel) Clamp(n int) {
	if l.Cursor >= n {
		l.Cursor = max(n-1, 0)
	}
	l.scroll()
}

func (l *ListModel) scroll() {
	rows := max(l.Height, 1)
	if l.Cursor < l.Top {
		l.Top = l.Cursor
	}
	if l.Cursor >= l.Top+rows {
		l.Top = l.Cursor - rows + 1
	}
}

var (
	cursorStyle = lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230"))
	pinnedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// ListView renders the visible rows of items.
func ListView(model ListModel, items []store.StoredItem) string {
	if len(items) == 0 {
		return dimStyle.Render("no matches")
	}

	labelWidth := max(model.Width-2, 4)
	end := min(model.Top+max(model.Height, 1), len(items))

	var b strings.Builder
	for i := model.Top; i < end; i++ {
		item := &items[i]
		marker := "  "
		if item.IsPinned {
			marker = pinnedStyle.Render("* ")
		}

		line := history.Label(item, labelWidth)
		if i == model.Cursor {
			line = cursorStyle.Width(labelWidth).Render(line)
		}
		fmt.Fprintf(&b, "%s%s", marker, line)
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
