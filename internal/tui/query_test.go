package tui

import (
	"testing"

	"github.com/yiblet/clipvault/internal/store"
)

func TestQueryModel_Update(t *testing.T) {
	q := NewQueryModel("")
	if q.Mode != store.ModeFuzzy {
		t.Fatalf("Expected default mode fuzzy, got %s", q.Mode)
	}

	if !q.Update(InsertTextMsg{Text: "héllo"}) || q.Input != "héllo" {
		t.Errorf("InsertTextMsg: input = %q", q.Input)
	}

	if !q.Update(DeleteCharMsg{}) || q.Input != "héll" {
		t.Errorf("DeleteCharMsg should remove one rune, input = %q", q.Input)
	}

	q.Error = "invalid pattern"
	if !q.Update(ClearQueryMsg{}) || q.Input != "" {
		t.Errorf("ClearQueryMsg: input = %q", q.Input)
	}
	if q.Error != "" {
		t.Errorf("Expected error cleared on change, got %q", q.Error)
	}

	if q.Update(DeleteCharMsg{}) {
		t.Error("Deleting from an empty query should not report a change")
	}
}

func TestQueryModel_CycleMode(t *testing.T) {
	q := NewQueryModel(store.ModeFuzzy)
	want := []store.SearchMode{store.ModeExact, store.ModeFuzzyPlus, store.ModeRegex, store.ModeFuzzy}
	for i, mode := range want {
		if !q.Update(CycleModeMsg{}) {
			t.Fatalf("step %d: mode change not reported", i)
		}
		if q.Mode != mode {
			t.Errorf("step %d: mode = %s, want %s", i, q.Mode, mode)
		}
	}
}

func TestQueryModel_Request(t *testing.T) {
	q := NewQueryModel(store.ModeRegex)
	q.Update(InsertTextMsg{Text: "^foo"})

	req := q.Request(25, 50)
	if req.Query != "^foo" || req.Mode != store.ModeRegex || req.Limit != 25 || req.Offset != 50 {
		t.Errorf("Request() = %+v", req)
	}
}
