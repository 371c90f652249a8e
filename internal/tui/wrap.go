package tui

import (
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
)

const tabWidth = 4

// WrapText wraps text to fit within a given display width, breaking on word boundaries when possible.
// It handles newlines in the input and returns a slice of lines that fit within maxWidth.
// Height truncation is handled by the caller during rendering, not here.
func WrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{}
	}

	var result []string
	text = strings.ReplaceAll(text, "\t", strings.Repeat(" ", tabWidth))
	for _, line := range strings.Split(text, "\n") {
		if runewidth.StringWidth(line) <= maxWidth {
			result = append(result, line)
			continue
		}
		result = append(result, wrapLine(line, maxWidth)...)
	}

	return result
}

// wrapLine wraps a single line that is too long, breaking on word boundaries when possible
func wrapLine(line string, maxWidth int) []string {
	var result []string
	var currentLine strings.Builder
	currentWidth := 0

	flush := func() {
		result = append(result, currentLine.String())
		currentLine.Reset()
		currentWidth = 0
	}

	for _, word := range splitWords(line) {
		wordWidth := runewidth.StringWidth(word)

		// A word wider than the line is broken at rune boundaries
		if wordWidth > maxWidth {
			if currentWidth > 0 {
				flush()
			}
			result = append(result, breakWord(word, maxWidth)...)
			continue
		}

		spaceNeeded := wordWidth
		if currentWidth > 0 {
			spaceNeeded++
		}

		if currentWidth+spaceNeeded > maxWidth {
			flush()
		} else if currentWidth > 0 {
			currentLine.WriteByte(' ')
			currentWidth++
		}
		currentLine.WriteString(word)
		currentWidth += wordWidth
	}

	if currentWidth > 0 {
		flush()
	}

	return result
}

// breakWord splits word into chunks no wider than maxWidth.
func breakWord(word string, maxWidth int) []string {
	var chunks []string
	var chunk strings.Builder
	width := 0
	for _, r := range word {
		w := runewidth.RuneWidth(r)
		if width+w > maxWidth && width > 0 {
			chunks = append(chunks, chunk.String())
			chunk.Reset()
			width = 0
		}
		chunk.WriteRune(r)
		width += w
	}
	if chunk.Len() > 0 {
		chunks = append(chunks, chunk.String())
	}
	return chunks
}

// splitWords splits text into words on whitespace
func splitWords(text string) []string {
	return strings.FieldsFunc(text, unicode.IsSpace)
}
