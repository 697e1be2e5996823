// shared.go: shared and weak pointers over a control block
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package charon

import (
	"unsafe"
)

// SharedPtr is an owning handle on a reference-counted value. Copies
// made with Clone share the value; the destructor runs when the last
// strong reference closes. The zero value is empty.
//
// SharedPtr is a small value type; pass it by value, but treat each
// instance as one reference: Clone to share, Close exactly once per
// instance. Concurrent use of distinct instances is safe; a single
// instance is not for concurrent mutation (use AtomicSharedPtr for a
// shared mutable slot).
type SharedPtr[T any] struct {
	ptr   *T
	block *controlBlock
}

// MakeShared allocates a value and its control block together and
// returns the first strong reference. The inline form: no deleter, the
// payload's memory lives and dies with the block.
func MakeShared[T any](value T) SharedPtr[T] {
	// Single allocation for block and payload.
	box := &struct {
		block controlBlock
		value T
	}{
		block: controlBlock{strong: 1, weak: 1},
		value: value,
	}
	box.block.payload = unsafe.Pointer(&box.value)
	return SharedPtr[T]{ptr: &box.value, block: &box.block}
}

// NewSharedPtr adopts an already-allocated value with a deleter: the
// out-of-place form. The deleter runs once, when the last strong
// reference closes. A nil p yields an empty SharedPtr and the deleter
// never runs.
func NewSharedPtr[T any](p *T, deleter func(*T)) SharedPtr[T] {
	if p == nil {
		return SharedPtr[T]{}
	}
	var destroy func(unsafe.Pointer)
	if deleter != nil {
		destroy = func(raw unsafe.Pointer) {
			deleter((*T)(raw))
		}
	}
	return SharedPtr[T]{ptr: p, block: newControlBlock(unsafe.Pointer(p), destroy)}
}

// AliasSharedPtr returns a SharedPtr that points at sub (typically a
// field of s's payload) while sharing s's control block and lifetime.
// Takes a new strong reference; s remains valid.
func AliasSharedPtr[T any, U any](s SharedPtr[T], sub *U) SharedPtr[U] {
	if s.block == nil {
		return SharedPtr[U]{}
	}
	s.block.incStrong()
	return SharedPtr[U]{ptr: sub, block: s.block}
}

// Clone returns a new strong reference to the same value.
// Cloning an empty SharedPtr yields an empty one.
func (s SharedPtr[T]) Clone() SharedPtr[T] {
	if s.block != nil {
		s.block.incStrong()
	}
	return s
}

// Close drops this reference and empties the handle. The last strong
// Close destroys the value. Closing an empty SharedPtr is a no-op.
func (s *SharedPtr[T]) Close() error {
	if s.block != nil {
		s.block.decStrong()
		s.block = nil
		s.ptr = nil
	}
	return nil
}

// Get returns the payload pointer, nil if empty.
func (s SharedPtr[T]) Get() *T {
	return s.ptr
}

// Deref returns the payload value. Panics if empty.
func (s SharedPtr[T]) Deref() T {
	return *s.ptr
}

// Empty reports whether the handle holds no reference.
func (s SharedPtr[T]) Empty() bool {
	return s.block == nil
}

// UseCount returns the current strong count, 0 for an empty handle.
// Racy by nature; meaningful only for tests and diagnostics.
func (s SharedPtr[T]) UseCount() int64 {
	if s.block == nil {
		return 0
	}
	return s.block.useCount()
}

// Downgrade returns a WeakPtr observing the same value without keeping
// it alive. s remains valid.
func (s SharedPtr[T]) Downgrade() WeakPtr[T] {
	if s.block == nil {
		return WeakPtr[T]{}
	}
	s.block.incWeak()
	return WeakPtr[T]{ptr: s.ptr, block: s.block}
}

// WeakPtr observes a reference-counted value without keeping it alive.
// Lock attempts to upgrade; it fails once the last strong reference has
// closed. The zero value is empty.
type WeakPtr[T any] struct {
	ptr   *T
	block *controlBlock
}

// Lock attempts to upgrade to a strong reference via the block's
// increment-if-not-zero. Returns an empty SharedPtr if the value is
// already gone; never blocks.
func (w WeakPtr[T]) Lock() SharedPtr[T] {
	if w.block == nil {
		return SharedPtr[T]{}
	}
	if !w.block.incStrongIfNotZero(NoBackOff{}) {
		return SharedPtr[T]{}
	}
	return SharedPtr[T]{ptr: w.ptr, block: w.block}
}

// Expired reports whether the value is already gone. Like UseCount this
// is advisory: a false result can be stale by the time the caller acts
// on it, so code that needs the value must use Lock.
func (w WeakPtr[T]) Expired() bool {
	return w.block == nil || w.block.useCount() == 0
}

// Clone returns a new weak reference to the same block.
func (w WeakPtr[T]) Clone() WeakPtr[T] {
	if w.block != nil {
		w.block.incWeak()
	}
	return w
}

// Close drops the weak reference and empties the handle. The last
// reference overall (strong or weak) releases the control block.
// Closing an empty WeakPtr is a no-op.
func (w *WeakPtr[T]) Close() error {
	if w.block != nil {
		w.block.decWeak()
		w.block = nil
		w.ptr = nil
	}
	return nil
}

// Empty reports whether the handle observes no block.
func (w WeakPtr[T]) Empty() bool {
	return w.block == nil
}
