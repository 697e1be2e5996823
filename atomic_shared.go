// atomic_shared.go: lock-free atomic slot for shared pointers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package charon

import (
	"sync/atomic"
	"unsafe"
)

// AtomicSharedPtr is a lock-free atomic slot holding a shared pointer.
// The slot owns exactly one strong reference to the block it holds;
// every live SharedPtr owns its own. That keeps the counter arithmetic
// local: Store transfers the incoming reference into the slot and drops
// the outgoing one, Load mints a fresh reference for the caller.
//
// Load is where the two reclamation mechanisms compose. A hazard
// pointer makes the block-pointer read safe: a block whose counts have
// both reached zero is retired into the process domain rather than
// finalized, so a reader holding it in a cell can still inspect the
// strong count. Increment-if-not-zero makes the adoption safe: a block
// can be logically dead (strong already zero) while still readable, and
// the failed adoption sends the reader back for the replacement block.
// Either alone is insufficient.
//
// The slot stores block identity only; Load reconstructs the payload
// pointer through the block, so an aliased SharedPtr (AliasSharedPtr)
// round-trips as a reference to the block's own payload, not the alias.
//
// All methods are safe for concurrent use. The zero value is a null
// slot.
type AtomicSharedPtr[T any] struct {
	slot unsafe.Pointer // *controlBlock
}

// NewAtomicSharedPtr creates a slot holding initial, consuming it.
func NewAtomicSharedPtr[T any](initial SharedPtr[T]) *AtomicSharedPtr[T] {
	a := &AtomicSharedPtr[T]{}
	a.slot = unsafe.Pointer(initial.block)
	initial.block = nil // reference transferred into the slot
	return a
}

// Load returns a new strong reference to the slot's current value, or
// an empty SharedPtr for a null slot. Lock-free: a lap repeats only
// when a writer replaced the block mid-read or the protected block was
// already dead, and a dead block in the slot means its replacement is
// one writer step away.
func (a *AtomicSharedPtr[T]) Load() SharedPtr[T] {
	d := DefaultDomain()
	h, err := NewHazardPointerIn(d)
	if err != nil {
		// The default domain always grows; acquisition cannot fail.
		panic("charon: AtomicSharedPtr.Load could not acquire a hazard cell: " + err.Error())
	}
	defer func() { _ = h.Close() }()

	bo := NewExpBackOff(0, 0)
	for {
		raw := h.protectLoop(func() unsafe.Pointer {
			return atomic.LoadPointer(&a.slot)
		})
		if raw == nil {
			return SharedPtr[T]{}
		}
		block := (*controlBlock)(raw)
		if block.incStrongIfNotZero(NoBackOff{}) {
			return SharedPtr[T]{ptr: (*T)(block.get()), block: block}
		}
		// Logically dead: the last strong holder beat us to zero while
		// the pointer was still slot-reachable. Wait for the writer to
		// install the replacement.
		d.metrics.RecordLoadRetry("dead")
		bo.Step()
	}
}

// Store replaces the slot's value with s, consuming s, and drops the
// reference previously held by the slot.
func (a *AtomicSharedPtr[T]) Store(s SharedPtr[T]) {
	old := atomic.SwapPointer(&a.slot, unsafe.Pointer(s.block))
	if old != nil {
		(*controlBlock)(old).decStrong()
	}
}

// Exchange replaces the slot's value with s, consuming s, and returns
// the previous value with ownership transferred: the returned SharedPtr
// carries the reference the slot held, no count is touched.
func (a *AtomicSharedPtr[T]) Exchange(s SharedPtr[T]) SharedPtr[T] {
	old := atomic.SwapPointer(&a.slot, unsafe.Pointer(s.block))
	if old == nil {
		return SharedPtr[T]{}
	}
	block := (*controlBlock)(old)
	return SharedPtr[T]{ptr: (*T)(block.get()), block: block}
}

// CompareAndSwap installs desired if the slot still holds the same
// block as *expected, comparing block identity, not payload equality.
//
// On success it returns true, consumes desired, and drops the replaced
// slot reference; *expected is untouched and remains owned by the
// caller. On failure it returns false, leaves desired untouched, closes
// the old *expected and replaces it with a fresh Load of the slot, so a
// CAS loop always retries against a current, safely-counted snapshot.
func (a *AtomicSharedPtr[T]) CompareAndSwap(expected *SharedPtr[T], desired SharedPtr[T]) bool {
	want := unsafe.Pointer(expected.block)
	if atomic.CompareAndSwapPointer(&a.slot, want, unsafe.Pointer(desired.block)) {
		if want != nil {
			(*controlBlock)(want).decStrong()
		}
		return true
	}
	_ = expected.Close()
	*expected = a.Load()
	return false
}

// Close empties the slot and drops its reference. The slot remains
// usable (as a null slot) afterwards; Close exists so owners can sever
// the last reference deterministically instead of waiting for the slot
// itself to become garbage.
func (a *AtomicSharedPtr[T]) Close() error {
	old := atomic.SwapPointer(&a.slot, nil)
	if old != nil {
		(*controlBlock)(old).decStrong()
	}
	return nil
}
