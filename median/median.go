// Package median maintains the running median of an append-only stream.
//
// Tracker keeps two heaps split around the median:
//
//	low  (max-heap): elements <= median
//	high (min-heap): elements >= median
//
// with |size(low) - size(high)| <= 1. Insert is O(log n) and Median is O(1).
package median

import (
	"cmp"
	"fmt"

	"github.com/emirpasic/gods/trees/binaryheap"
)

// Tracker is a streaming median over elements of type T ordered by a
// comparator. The zero value is not usable; use New or NewOrdered.
// Tracker is not safe for concurrent use.
type Tracker[T any] struct {
	cmp     func(a, b T) int
	low     *binaryheap.Heap
	high    *binaryheap.Heap
	balance int // size(high) - size(low), one of -1, 0, +1
	median  T
	n       int
}

// New creates a tracker ordered by cmp, which must return a negative number
// when a < b, zero when a == b and a positive number when a > b.
func New[T any](cmp func(a, b T) int) *Tracker[T] {
	return &Tracker[T]{
		cmp: cmp,
		low: binaryheap.NewWith(func(a, b interface{}) int {
			return cmp(b.(T), a.(T))
		}),
		high: binaryheap.NewWith(func(a, b interface{}) int {
			return cmp(a.(T), b.(T))
		}),
	}
}

// NewOrdered creates a tracker using the natural order of T.
func NewOrdered[T cmp.Ordered]() *Tracker[T] {
	return New(cmp.Compare[T])
}

// Insert adds x to the stream.
func (t *Tracker[T]) Insert(x T) {
	switch {
	case t.n == 0 || t.balance == 0:
		if t.n > 0 && t.cmp(x, t.median) < 0 {
			t.low.Push(x)
			t.median = top[T](t.low)
			t.balance = -1
		} else {
			t.high.Push(x)
			t.median = top[T](t.high)
			t.balance = 1
		}
	case t.balance == 1:
		if t.cmp(x, t.median) <= 0 {
			t.low.Push(x)
		} else {
			t.high.Push(x)
			moved, _ := t.high.Pop()
			t.low.Push(moved)
		}
		t.balance = 0
		t.median = top[T](t.low)
	default: // balance == -1
		if t.cmp(x, t.median) >= 0 {
			t.high.Push(x)
		} else {
			t.low.Push(x)
			moved, _ := t.low.Pop()
			t.high.Push(moved)
		}
		t.balance = 0
		t.median = top[T](t.low)
	}
	t.n++

	if t.balance == 0 && t.low.Size() != t.high.Size() {
		panic(fmt.Sprintf("median: unbalanced heaps low=%d high=%d", t.low.Size(), t.high.Size()))
	}
}

// Median returns the current median, or false until the first Insert.
// For an even number of elements it is the lower of the two middle elements.
func (t *Tracker[T]) Median() (T, bool) {
	if t.n == 0 {
		var zero T
		return zero, false
	}
	return t.median, true
}

// Len returns the number of inserted elements.
func (t *Tracker[T]) Len() int {
	return t.n
}

func top[T any](h *binaryheap.Heap) T {
	v, _ := h.Peek()
	return v.(T)
}
