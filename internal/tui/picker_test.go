package tui

import (
	"context"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yiblet/clipvault/internal/blobfs"
	"github.com/yiblet/clipvault/internal/history"
	"github.com/yiblet/clipvault/internal/store"
	"github.com/yiblet/clipvault/internal/store/memstore"
)

func setupPicker(t *testing.T, texts []string, opts Options) (Model, *history.Manager) {
	t.Helper()
	bfs, err := blobfs.NewWithRoot(t.TempDir(), blobfs.Options{})
	require.NoError(t, err)
	mgr := history.NewManager(memstore.NewMemoryStore(), bfs, history.Options{})
	t.Cleanup(func() { mgr.Close() })

	ctx := context.Background()
	for i, text := range texts {
		_, err := mgr.Ingest(ctx, store.ClipboardContent{
			Type:        store.TypeText,
			PlainText:   text,
			Payload:     store.InlinePayload([]byte(text)),
			ContentHash: fmt.Sprintf("h%d", i),
			SizeBytes:   int64(len(text)),
		})
		require.NoError(t, err)
	}

	m := New(ctx, mgr, opts)
	return run(t, m, m.Init()), mgr
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	next, _ := m.Update(cmd())
	return next.(Model)
}

func press(t *testing.T, m Model, key tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(key)
	return next.(Model), cmd
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return run(t, m, cmd)
}

func TestPicker_InitialListing(t *testing.T) {
	m, _ := setupPicker(t, []string{"alpha", "beta", "gamma"}, Options{})

	require.Len(t, m.Items, 3)
	assert.Equal(t, "gamma", m.Items[0].PlainText, "most recent first")
	assert.Equal(t, 3, m.Total)
	assert.False(t, m.HasMore)
	assert.Contains(t, m.View(), "3 of 3")
}

func TestPicker_TypingSearches(t *testing.T) {
	m, _ := setupPicker(t, []string{"hello world", "goodbye", "help me"}, Options{Mode: store.ModeFuzzy})

	m = typeText(t, m, "hel")
	require.Len(t, m.Items, 2)
	for _, item := range m.Items {
		assert.Contains(t, item.PlainText, "hel")
	}

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlU})
	m = run(t, m, cmd)
	assert.Len(t, m.Items, 3)
}

func TestPicker_IgnoresResultsForOldQuery(t *testing.T) {
	m, _ := setupPicker(t, []string{"one", "two"}, Options{})

	old := store.SearchRequest{Query: "zzz", Mode: store.ModeFuzzy}
	next, _ := m.Update(resultsMsg{req: old, res: &store.SearchResult{}})
	m = next.(Model)
	assert.Len(t, m.Items, 2)
}

func TestPicker_InvalidRegexShowsError(t *testing.T) {
	m, _ := setupPicker(t, []string{"one"}, Options{Mode: store.ModeRegex})

	m = typeText(t, m, "(")
	assert.Equal(t, "invalid pattern", m.Query.Error)
	assert.Len(t, m.Items, 1, "previous results stay on screen")

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Empty(t, m.Query.Error)
}

func TestPicker_Paging(t *testing.T) {
	texts := make([]string, 7)
	for i := range texts {
		texts[i] = fmt.Sprintf("item %d", i)
	}
	m, _ := setupPicker(t, texts, Options{PageSize: 3})
	require.Len(t, m.Items, 3)
	require.True(t, m.HasMore)

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	require.NotNil(t, cmd, "moving near the end loads the next page")
	m = run(t, m, cmd)
	assert.Len(t, m.Items, 6)
	assert.Equal(t, 1, m.List.Cursor)

	seen := map[int64]bool{}
	for _, item := range m.Items {
		assert.False(t, seen[item.ID], "duplicate item %d across pages", item.ID)
		seen[item.ID] = true
	}
}

func TestPicker_EnterChoosesCurrent(t *testing.T) {
	m, _ := setupPicker(t, []string{"first", "second"}, Options{})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.NotNil(t, m.Chosen())
	assert.Equal(t, "first", m.Chosen().PlainText)
}

func TestPicker_EscapeChoosesNothing(t *testing.T) {
	m, _ := setupPicker(t, []string{"first"}, Options{})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, m.Chosen())
}

func TestPicker_PinAndDelete(t *testing.T) {
	m, mgr := setupPicker(t, []string{"keep", "drop"}, Options{})
	ctx := context.Background()

	// pin the second row, "keep"
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	id := m.Current().ID
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlP})
	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.Equal(t, "pinned", m.Flash)

	item, err := mgr.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, item.IsPinned)

	m = run(t, m, m.search(0))
	assert.Equal(t, id, m.Items[0].ID, "pinned item sorts first")

	// delete the unpinned one
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	dropID := m.Current().ID
	m, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	next, _ = m.Update(cmd())
	m = next.(Model)
	assert.Equal(t, "deleted", m.Flash)

	_, err = mgr.Get(ctx, dropID)
	assert.Error(t, err)
}
