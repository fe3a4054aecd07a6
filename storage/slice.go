package storage

import "github.com/cbxgyh/usrnet"

// Slice is a dynamically-resizable, in-place view over T, either borrowed
// from a caller-owned fixed-capacity backing array or owned (grows freely).
// Resizing within capacity is O(new-old) when extending (new slots filled
// with a caller-supplied value) and O(1) when shrinking.
type Slice[T any] struct {
	buf   []T
	owned bool
}

// NewBorrowedSlice constructs a Slice borrowing buf; TryResize beyond
// cap(buf) fails with ErrExhausted.
func NewBorrowedSlice[T any](buf []T) *Slice[T] {
	return &Slice[T]{buf: buf[:0]}
}

// NewOwnedSlice constructs a Slice that grows without bound, starting from
// an optional initial backing buf (may be nil).
func NewOwnedSlice[T any](buf []T) *Slice[T] {
	return &Slice[T]{buf: buf[:0], owned: true}
}

// Len returns the slice's current logical length.
func (s *Slice[T]) Len() int { return len(s.buf) }

// Cap returns the slice's current capacity.
func (s *Slice[T]) Cap() int { return cap(s.buf) }

// Bytes returns the current logical contents.
func (s *Slice[T]) Bytes() []T { return s.buf }

// At returns a pointer to the element at index i.
func (s *Slice[T]) At(i int) *T { return &s.buf[i] }

// TryResize sets the slice's logical length to n. If extending, new slots
// are filled with fill. Borrowed slices fail with ErrExhausted if n exceeds
// the original backing capacity; owned slices always succeed, growing the
// backing array as needed.
func (s *Slice[T]) TryResize(n int, fill T) error {
	old := len(s.buf)
	if n <= old {
		s.buf = s.buf[:n]
		return nil
	}
	if !s.owned && n > cap(s.buf) {
		return usrnet.ErrExhausted
	}
	if n > cap(s.buf) {
		grown := make([]T, n)
		copy(grown, s.buf)
		s.buf = grown
	} else {
		s.buf = s.buf[:n]
	}
	for i := old; i < n; i++ {
		s.buf[i] = fill
	}
	return nil
}
