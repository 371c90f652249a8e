package history

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/yiblet/clipvault/internal/store"
)

// Label returns a one-line display label for an item, at most maxLen
// runes. Text items use their first non-empty line.
func Label(item *store.StoredItem, maxLen int) string {
	if !item.Type.IsTextual() {
		return TruncateLabel(SanitizeLabel(item.PlainText), maxLen)
	}

	for _, line := range strings.Split(item.PlainText, "\n") {
		if cleaned := strings.TrimSpace(line); cleaned != "" {
			return TruncateLabel(SanitizeLabel(cleaned), maxLen)
		}
	}
	return "[empty]"
}

// BinaryLabel describes non-text content for the searchable text column.
func BinaryLabel(t store.ItemType, size int64, detail string) string {
	if detail != "" {
		return fmt.Sprintf("[%s %s, %s]", t, detail, humanize.IBytes(uint64(size)))
	}
	return fmt.Sprintf("[%s %s]", t, humanize.IBytes(uint64(size)))
}

// TruncateLabel ensures label is at most maxLen runes.
// If truncation is needed, appends "..." to indicate truncation.
func TruncateLabel(label string, maxLen int) string {
	label = strings.TrimSpace(label)

	runes := []rune(label)
	if len(runes) <= maxLen {
		return label
	}

	// Reserve 3 characters for "..."
	if maxLen < 3 {
		return strings.Repeat(".", max(maxLen, 0))
	}

	return string(runes[:maxLen-3]) + "..."
}

// SanitizeLabel removes control characters and collapses whitespace.
// This keeps labels safe for display in terminals.
func SanitizeLabel(label string) string {
	label = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, label)

	return strings.Join(strings.Fields(label), " ")
}
