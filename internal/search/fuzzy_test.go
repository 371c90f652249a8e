package search

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuzzyScore_Subsequence(t *testing.T) {
	score, ok := FuzzyScore("hwd", "hello world")
	assert.True(t, ok)
	// h@0 w@6 d@10: 30 - span 10 - gaps (5+3)
	assert.Equal(t, 12, score)

	_, ok = FuzzyScore("wdh", "hello world")
	assert.False(t, ok)
}

func TestFuzzyScore_ShortQueriesAreContiguous(t *testing.T) {
	tests := []struct {
		query string
		text  string
		score int
		ok    bool
	}{
		{"h", "hello", 10, true},
		{"lo", "hello", 16, true},
		{"hl", "hello", 0, false},
		{"o", "foo", 9, true},
		{"é", "café", 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.query+"/"+tt.text, func(t *testing.T) {
			score, ok := FuzzyScore(tt.query, tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.score, score)
			}
		})
	}
}

func TestFuzzyScore_ASCIIFastPath(t *testing.T) {
	score, ok := FuzzyScore("wor", "hello world")
	assert.True(t, ok)
	assert.Equal(t, 30-2-6, score)

	// a contiguous hit always beats a scattered one of the same length
	contiguous, _ := FuzzyScore("abc", "xabc")
	scattered, _ := FuzzyScore("abc", "axbxc")
	assert.Greater(t, contiguous, scattered)
}

func TestFuzzyScore_NonASCII(t *testing.T) {
	score, ok := FuzzyScore("çaf", "ça fait")
	assert.True(t, ok)
	// ç@0 a@1 f@3: 30 - span 3 - gaps 1
	assert.Equal(t, 26, score)
}

func TestFuzzyScore_SubsequenceProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const alphabet = "abcdefghij klmnop"

	for i := 0; i < 500; i++ {
		n := 5 + rng.Intn(40)
		var sb strings.Builder
		for j := 0; j < n; j++ {
			sb.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		text := sb.String()

		var q strings.Builder
		for j := 0; j < len(text); j++ {
			if text[j] != ' ' && rng.Intn(3) == 0 {
				q.WriteByte(text[j])
			}
		}
		if q.Len() > contiguousOnlyLen {
			_, ok := FuzzyScore(q.String(), text)
			assert.True(t, ok, "subsequence %q of %q must match", q.String(), text)
		}

		_, ok := FuzzyScore(q.String()+"z", text)
		assert.False(t, ok, "%q contains a rune absent from %q", q.String()+"z", text)
	}
}

func TestFuzzyPlusScore(t *testing.T) {
	a, _ := FuzzyScore("hel", "hello world")
	b, _ := FuzzyScore("wor", "hello world")

	score, ok := FuzzyPlusScore("hel  wor", "hello world")
	assert.True(t, ok)
	assert.Equal(t, a+b, score)

	_, ok = FuzzyPlusScore("hel xyz", "hello world")
	assert.False(t, ok)

	score, ok = FuzzyPlusScore("   ", "anything")
	assert.True(t, ok)
	assert.Zero(t, score)
}

func TestQueryRunes(t *testing.T) {
	assert.Equal(t, []rune{'a', 'b'}, queryRunes("a b\tab"))
	assert.Empty(t, queryRunes("   "))
}
