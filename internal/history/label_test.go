package history

import (
	"testing"

	"github.com/yiblet/clipvault/internal/store"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		name string
		item store.StoredItem
		max  int
		want string
	}{
		{"first non-empty line", store.StoredItem{Type: store.TypeText, PlainText: "\n\n  hello\nworld"}, 80, "hello"},
		{"control chars", store.StoredItem{Type: store.TypeText, PlainText: "a\tb\x00c"}, 80, "a b c"},
		{"truncated", store.StoredItem{Type: store.TypeText, PlainText: "abcdefghij"}, 6, "abc..."},
		{"empty", store.StoredItem{Type: store.TypeHTML, PlainText: "  \n "}, 80, "[empty]"},
		{"binary", store.StoredItem{Type: store.TypeImage, PlainText: "[image 2x2, 16 B]"}, 80, "[image 2x2, 16 B]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Label(&tt.item, tt.max); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateLabel(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"héllo wörld", 8, "héllo..."},
		{"abc", 2, ".."},
	}
	for _, tt := range tests {
		if got := TruncateLabel(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateLabel(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestBinaryLabel(t *testing.T) {
	if got := BinaryLabel(store.TypeImage, 2048, "640x480"); got != "[image 640x480, 2.0 KiB]" {
		t.Errorf("BinaryLabel() = %q", got)
	}
	if got := BinaryLabel(store.TypeFile, 10, ""); got != "[file 10 B]" {
		t.Errorf("BinaryLabel() = %q", got)
	}
}
