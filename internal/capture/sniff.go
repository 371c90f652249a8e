package capture

import (
	"bytes"
	"fmt"
	"html"
	"image"
	_ "image/png"
	"regexp"
	"strconv"
	"strings"

	"github.com/yiblet/clipvault/internal/history"
	"github.com/yiblet/clipvault/internal/store"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

var (
	htmlDropped = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTag     = regexp.MustCompile(`(?s)<[^>]*>`)

	rtfDestination = regexp.MustCompile(`\{\\(?:fonttbl|colortbl|stylesheet|info|\*)[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
	rtfToken       = regexp.MustCompile(`\\[{}\\]|\\'[0-9a-fA-F]{2}|\\[a-zA-Z]+-?[0-9]* ?|\\.|[{}]`)
)

// Sniff guesses the item type of raw clipboard bytes.
func Sniff(data []byte) store.ItemType {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return store.TypeImage
	case isBinary(data):
		return store.TypeOther
	}

	head := bytes.TrimSpace(data[:min(len(data), 512)])
	switch {
	case bytes.HasPrefix(head, []byte(`{\rtf`)):
		return store.TypeRTF
	case looksLikeHTML(head):
		return store.TypeHTML
	}
	return store.TypeText
}

func looksLikeHTML(head []byte) bool {
	lower := strings.ToLower(string(head))
	for _, prefix := range []string{"<!doctype html", "<html", "<meta", "<body"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isBinary detects if data contains binary content
func isBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	// Check up to first 8KB for performance
	sampleSize := min(len(data), 8192)

	nonPrintable := 0
	for i := 0; i < sampleSize; i++ {
		b := data[i]

		// Null byte is a strong indicator of binary content
		if b == 0 {
			return true
		}

		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			nonPrintable++
		}
	}

	// If more than 30% of characters are non-printable, consider it binary
	return float64(nonPrintable)/float64(sampleSize) > 0.3
}

// PlainText derives the searchable text of a capture. Binary types get a
// descriptive label.
func PlainText(t store.ItemType, data []byte) string {
	switch t {
	case store.TypeText:
		return NormalizeText(string(data))
	case store.TypeHTML:
		s := htmlDropped.ReplaceAllString(string(data), " ")
		s = htmlTag.ReplaceAllString(s, " ")
		return collapseLines(html.UnescapeString(NormalizeText(s)))
	case store.TypeRTF:
		s := rtfDestination.ReplaceAllString(string(data), "")
		s = rtfToken.ReplaceAllStringFunc(s, rtfReplace)
		return collapseLines(NormalizeText(s))
	case store.TypeImage:
		size := int64(len(data))
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return history.BinaryLabel(t, size, "")
		}
		return history.BinaryLabel(t, size, fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	case store.TypeFile, store.TypeOther:
		return history.BinaryLabel(t, int64(len(data)), "")
	}
	return history.BinaryLabel(t, int64(len(data)), "")
}

func rtfReplace(tok string) string {
	switch {
	case tok == `\{` || tok == `\}` || tok == `\\`:
		return tok[1:]
	case strings.HasPrefix(tok, `\'`):
		// cp1252 escape; only the ASCII range maps directly
		if b, err := strconv.ParseUint(tok[2:], 16, 8); err == nil && b < 0x80 {
			return string(rune(b))
		}
		return ""
	}
	switch strings.TrimSpace(tok) {
	case `\par`, `\line`:
		return "\n"
	case `\tab`:
		return "\t"
	}
	return ""
}

// NormalizeText makes captured text valid UTF-8 with LF line endings and
// no NUL bytes.
func NormalizeText(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\x00", "")
}

// collapseLines squeezes whitespace inside each line and drops blank lines.
func collapseLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
