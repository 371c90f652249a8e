package tui

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
)

func TestWrapText_FitsWithinWidth(t *testing.T) {
	text := "Hello world"
	result := WrapText(text, 20)

	if len(result) != 1 {
		t.Errorf("Expected 1 line, got %d", len(result))
	}
	if result[0] != text {
		t.Errorf("Expected %q, got %q", text, result[0])
	}
}

func TestWrapText_SimpleWrap(t *testing.T) {
	width := 15
	result := WrapText("Hello world this is a test", width)

	for i, line := range result {
		if len(line) > width {
			t.Errorf("Line %d exceeds width: %q (len=%d, max=%d)", i, line, len(line), width)
		}
	}
	if got := strings.Join(result, " "); got != "Hello world this is a test" {
		t.Errorf("Content not preserved: %v", result)
	}
}

func TestWrapText_LongWordBreak(t *testing.T) {
	width := 10
	result := WrapText("ThisIsAVeryLongWordThatExceedsTheMaxWidth", width)

	for i, line := range result {
		if len(line) > width {
			t.Errorf("Line %d exceeds width: %q (len=%d, max=%d)", i, line, len(line), width)
		}
	}
	if len(result) != 5 {
		t.Errorf("Expected word broken into 5 lines, got %d", len(result))
	}
}

func TestWrapText_WideRunes(t *testing.T) {
	width := 6
	result := WrapText("日本語のテキスト", width)

	for i, line := range result {
		if w := runewidth.StringWidth(line); w > width {
			t.Errorf("Line %d display width %d exceeds %d: %q", i, w, width, line)
		}
	}
	if got := strings.Join(result, ""); got != "日本語のテキスト" {
		t.Errorf("Content not preserved: %v", result)
	}
}

func TestWrapText_PreservesNewlines(t *testing.T) {
	result := WrapText("Line 1\n\nLine 3", 20)

	if len(result) != 3 {
		t.Fatalf("Expected 3 lines (with empty), got %d", len(result))
	}
	if result[0] != "Line 1" || result[1] != "" || result[2] != "Line 3" {
		t.Errorf("Lines not preserved correctly: %v", result)
	}
}

func TestWrapText_Tabs(t *testing.T) {
	result := WrapText("\tindented", 20)
	if result[0] != "    indented" {
		t.Errorf("Expected tab expanded, got %q", result[0])
	}
}

func TestWrapText_NonPositiveWidth(t *testing.T) {
	if result := WrapText("Hello", 0); len(result) != 0 {
		t.Errorf("Expected empty result for zero width, got %v", result)
	}
	if result := WrapText("Hello", -5); len(result) != 0 {
		t.Errorf("Expected empty result for negative width, got %v", result)
	}
}

func TestWrapText_ExactWidth(t *testing.T) {
	result := WrapText("1234567890", 10)
	if len(result) != 1 || result[0] != "1234567890" {
		t.Errorf("Expected single unchanged line, got %v", result)
	}
}

func TestWrapLine_MultipleWords(t *testing.T) {
	result := wrapLine("The quick brown fox", 10)

	want := []string{"The quick", "brown fox"}
	if len(result) != len(want) {
		t.Fatalf("Expected %v, got %v", want, result)
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], result[i])
		}
	}
}

func TestSplitWords(t *testing.T) {
	words := splitWords("Hello    world\ttest")
	expected := []string{"Hello", "world", "test"}
	if len(words) != len(expected) {
		t.Fatalf("Expected %d words, got %d: %v", len(expected), len(words), words)
	}
	for i, word := range words {
		if word != expected[i] {
			t.Errorf("Word %d: expected %q, got %q", i, expected[i], word)
		}
	}

	if words := splitWords(""); len(words) != 0 {
		t.Errorf("Expected 0 words, got %d", len(words))
	}
}
