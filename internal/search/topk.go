package search

import "sort"

// TopK keeps the k best values seen so far in a bounded binary heap whose
// root is the worst kept value.
type TopK[T any] struct {
	k      int
	better func(a, b T) bool
	heap   []T
}

// NewTopK creates a selector of capacity k. better(a, b) reports whether a
// ranks ahead of b and must be a strict total order.
func NewTopK[T any](k int, better func(a, b T) bool) *TopK[T] {
	return &TopK[T]{k: k, better: better, heap: make([]T, 0, min(k, 1024))}
}

// Len returns the number of values kept.
func (t *TopK[T]) Len() int {
	return len(t.heap)
}

// Push offers v. Values no better than the current worst are rejected
// without touching the heap once it is full.
func (t *TopK[T]) Push(v T) {
	if t.k <= 0 {
		return
	}
	if len(t.heap) < t.k {
		t.heap = append(t.heap, v)
		t.up(len(t.heap) - 1)
		return
	}
	if !t.better(v, t.heap[0]) {
		return
	}
	t.heap[0] = v
	t.down(0)
}

// Sorted returns the kept values best first.
func (t *TopK[T]) Sorted() []T {
	out := make([]T, len(t.heap))
	copy(out, t.heap)
	sort.Slice(out, func(i, j int) bool { return t.better(out[i], out[j]) })
	return out
}

// worse reports whether heap[i] should sit above heap[j].
func (t *TopK[T]) worse(i, j int) bool {
	return t.better(t.heap[j], t.heap[i])
}

func (t *TopK[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !t.worse(i, parent) {
			break
		}
		t.heap[i], t.heap[parent] = t.heap[parent], t.heap[i]
		i = parent
	}
}

func (t *TopK[T]) down(i int) {
	n := len(t.heap)
	for {
		worst := i
		l, r := 2*i+1, 2*i+2
		if l < n && t.worse(l, worst) {
			worst = l
		}
		if r < n && t.worse(r, worst) {
			worst = r
		}
		if worst == i {
			return
		}
		t.heap[i], t.heap[worst] = t.heap[worst], t.heap[i]
		i = worst
	}
}
