package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/yiblet/clipvault/internal/store"
)

// PreviewModel caches the wrapped text of the selected item.
type PreviewModel struct {
	ItemID int64
	Width  int
	Lines  []string
}

// SetItem rewraps only when the item or the width changed.
func (p *PreviewModel) SetItem(item *store.StoredItem, width int) {
	if item == nil {
		*p = PreviewModel{Width: width}
		return
	}
	if item.ID == p.ItemID && width == p.Width && p.Lines != nil {
		return
	}
	p.ItemID = item.ID
	p.Width = width
	p.Lines = WrapText(item.PlainText, width)
}

var metaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)

// Meta describes an item in one line.
func Meta(item *store.StoredItem) string {
	parts := []string{
		string(item.Type),
		humanize.IBytes(uint64(item.SizeBytes)),
		fmt.Sprintf("used %dx", item.UseCount),
		humanize.Time(item.LastUsedAt),
	}
	if item.AppBundleID != "" {
		parts = append(parts, item.AppBundleID)
	}
	if item.IsPinned {
		parts = append(parts, "pinned")
	}
	return strings.Join(parts, " · ")
}

// PreviewView renders the item header and at most height-2 wrapped lines.
func PreviewView(model PreviewModel, item *store.StoredItem, height int) string {
	if item == nil {
		return ""
	}

	body := model.Lines
	if limit := max(height-2, 0); len(body) > limit {
		body = body[:limit]
	}
	return metaStyle.Render(Meta(item)) + "\n\n" + strings.Join(body, "\n")
}
