package search

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pair struct {
	value int
	id    int
}

func pairAhead(a, b pair) bool {
	if a.value != b.value {
		return a.value > b.value
	}
	return a.id < b.id
}

func TestTopK_MatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := rng.Intn(300)
		k := 1 + rng.Intn(40)

		all := make([]pair, n)
		top := NewTopK(k, pairAhead)
		for i := range all {
			all[i] = pair{value: rng.Intn(20), id: i}
			top.Push(all[i])
		}

		sort.Slice(all, func(i, j int) bool { return pairAhead(all[i], all[j]) })
		want := all[:min(k, n)]
		assert.Equal(t, want, top.Sorted(), "n=%d k=%d", n, k)
	}
}

func TestTopK_ZeroCapacity(t *testing.T) {
	top := NewTopK(0, pairAhead)
	top.Push(pair{value: 1})
	assert.Zero(t, top.Len())
	assert.Empty(t, top.Sorted())
}

func TestTopK_PageSlicing(t *testing.T) {
	top := NewTopK(6, pairAhead)
	for i := 0; i < 10; i++ {
		top.Push(pair{value: i, id: i})
	}
	sorted := top.Sorted()
	assert.Equal(t, []pair{{7, 7}, {6, 6}}, page(sorted, 2, 2))
	assert.Empty(t, page(sorted, 10, 2))
}
