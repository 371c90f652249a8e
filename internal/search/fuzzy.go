package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// contiguousOnlyLen is the longest query scored only as a literal substring.
// Subsequence matches of one or two characters are mostly noise.
const contiguousOnlyLen = 2

// FuzzyScore scores query against text, both already lowercased. The second
// result is false when query is not a subsequence of text.
//
// Short queries and ASCII substring hits score 10*m - (m-1) - position.
// General subsequence matches score 10*matched - span - gaps, favouring
// matches that start early and stay tight.
func FuzzyScore(query, text string) (int, bool) {
	m := utf8.RuneCountInString(query)
	if m == 0 {
		return 0, true
	}

	if m <= contiguousOnlyLen {
		return contiguousScore(query, text, m)
	}

	if isASCII(query) && isASCII(text) {
		if score, ok := contiguousScore(query, text, m); ok {
			return score, true
		}
	}

	return subsequenceScore(query, text)
}

// FuzzyPlusScore splits query on whitespace and requires every word to
// match independently; the score is the sum. No words matches everything.
func FuzzyPlusScore(query, text string) (int, bool) {
	total := 0
	for _, word := range strings.Fields(query) {
		score, ok := FuzzyScore(word, text)
		if !ok {
			return 0, false
		}
		total += score
	}
	return total, true
}

func contiguousScore(query, text string, m int) (int, bool) {
	idx := strings.Index(text, query)
	if idx < 0 {
		return 0, false
	}
	pos := idx
	if !isASCII(text[:idx]) {
		pos = utf8.RuneCountInString(text[:idx])
	}
	return 10*m - (m - 1) - pos, true
}

func subsequenceScore(query, text string) (int, bool) {
	first, last, prev := -1, -1, -1
	gaps, matched := 0, 0

	qi := 0
	qr := []rune(query)
	pos := 0
	for _, r := range text {
		if qi == len(qr) {
			break
		}
		if r == qr[qi] {
			if first < 0 {
				first = pos
			} else {
				gaps += pos - prev - 1
			}
			prev, last = pos, pos
			matched++
			qi++
		}
		pos++
	}
	if qi < len(qr) {
		return 0, false
	}
	return 10*matched - (last - first) - gaps, true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// queryRunes returns the distinct non-whitespace runes of a lowercased query.
func queryRunes(query string) []rune {
	seen := make(map[rune]struct{}, len(query))
	var out []rune
	for _, r := range query {
		if unicode.IsSpace(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
