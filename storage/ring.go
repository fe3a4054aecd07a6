// Package storage implements the bounded FIFO and resizable-slice types used
// to hold per-socket payloads: a fixed-capacity Ring of items and a Slice
// that may be either borrowed (fixed capacity) or owned (always grows).
package storage

import "github.com/cbxgyh/usrnet"

// Ring is a fixed-capacity circular buffer of T. The zero value is not
// usable; construct with NewRing.
type Ring[T any] struct {
	buf   []T
	begin int
	n     int
}

// NewRing constructs a Ring with the given fixed capacity, backed by a
// freshly allocated slice of T.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{buf: make([]T, capacity)}
}

// NewRingFrom constructs a Ring that borrows buf as its backing storage; the
// ring's capacity is len(buf).
func NewRingFrom[T any](buf []T) *Ring[T] {
	return &Ring[T]{buf: buf}
}

// Len returns the number of items currently enqueued.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Free returns the number of additional items that can be enqueued.
func (r *Ring[T]) Free() int { return len(r.buf) - r.n }

// Raw exposes the ring's backing array, indexed by physical slot rather than
// logical position, so callers can pre-initialize every slot (e.g. give each
// slot its own backing byte buffer) before any items are enqueued.
func (r *Ring[T]) Raw() []T { return r.buf }

func (r *Ring[T]) tailIndex() int {
	return (r.begin + r.n) % len(r.buf)
}

// EnqueueMaybe applies f to the slot that would become the new tail. If f
// returns a nil error the slot is committed and the ring's length
// increments; if f returns an error the ring is left unchanged (the item is
// not committed) and that error is returned. Returns ErrExhausted without
// calling f if the ring is already full.
func EnqueueMaybe[T any, R any](r *Ring[T], f func(item *T) (R, error)) (R, error) {
	var zero R
	if r.n == len(r.buf) {
		return zero, usrnet.ErrExhausted
	}
	idx := r.tailIndex()
	result, err := f(&r.buf[idx])
	if err != nil {
		return zero, err
	}
	r.n++
	return result, nil
}

// DequeueMaybe applies f to the current head slot. If f returns a nil error
// the slot is popped and the ring's length decrements; if f returns an error
// the ring is left unchanged. Returns ErrExhausted without calling f if the
// ring is empty.
func DequeueMaybe[T any, R any](r *Ring[T], f func(item *T) (R, error)) (R, error) {
	var zero R
	if r.n == 0 {
		return zero, usrnet.ErrExhausted
	}
	result, err := f(&r.buf[r.begin])
	if err != nil {
		return zero, err
	}
	r.begin = (r.begin + 1) % len(r.buf)
	r.n--
	return result, nil
}

// EnqueueWith is a convenience wrapper around EnqueueMaybe for closures that
// never fail.
func EnqueueWith[T any, R any](r *Ring[T], f func(item *T) R) (R, error) {
	return EnqueueMaybe(r, func(item *T) (R, error) {
		return f(item), nil
	})
}

// DequeueWith is a convenience wrapper around DequeueMaybe for closures that
// never fail.
func DequeueWith[T any, R any](r *Ring[T], f func(item *T) R) (R, error) {
	return DequeueMaybe(r, func(item *T) (R, error) {
		return f(item), nil
	})
}
