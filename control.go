// control.go: reference-count control block
//
// The control block is the out-of-line head record of a reference-counted
// value. It carries the split strong/weak counts and the type-erased
// destructor. The weak count notionally includes one reference held by
// the strong collective: while any strong reference exists, the block
// cannot disappear. When strong drops to zero the payload is destroyed;
// the block itself is released only when weak also reaches zero.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package charon

import (
	"sync/atomic"
	"unsafe"
)

// controlBlock is shared by every SharedPtr, WeakPtr and AtomicSharedPtr
// that refers to the same managed object. Counters are mutated only
// through atomics; destroy runs exactly once, on the strong 1->0 edge.
type controlBlock struct {
	strong int64
	weak   int64

	// payload is the managed object. Read via atomics because finalizeBlock
	// severs it concurrently with expired-weak observers.
	payload unsafe.Pointer

	// destroy is the type-erased destructor for the payload: the stored
	// deleter for an out-of-place block, nil for an inline MakeShared
	// block whose payload needs no teardown beyond dropping it.
	destroy func(unsafe.Pointer)
}

// newControlBlock creates a block holding one strong reference (and the
// strong collective's weak reference).
func newControlBlock(payload unsafe.Pointer, destroy func(unsafe.Pointer)) *controlBlock {
	return &controlBlock{strong: 1, weak: 1, payload: payload, destroy: destroy}
}

// incStrong adds a strong reference. The caller must already hold one:
// a plain increment cannot resurrect a dying block, so adopting from an
// unowned source goes through incStrongIfNotZero instead.
func (b *controlBlock) incStrong() {
	if atomic.AddInt64(&b.strong, 1) <= 1 {
		panic("charon: strong increment on a dead control block")
	}
}

// incStrongIfNotZero adopts a strong reference from an unowned source.
// Returns false if the block is logically dead (strong already zero);
// the payload may be destroyed at any point after that. This is the only
// safe adoption path for AtomicSharedPtr.Load and WeakPtr.Lock.
func (b *controlBlock) incStrongIfNotZero(bo BackOff) bool {
	for {
		n := atomic.LoadInt64(&b.strong)
		if n == 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&b.strong, n, n+1) {
			return true
		}
		bo.Step()
	}
}

// decStrong drops a strong reference. On the 1->0 edge the payload is
// destroyed and the strong collective's weak reference is released.
func (b *controlBlock) decStrong() {
	n := atomic.AddInt64(&b.strong, -1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("charon: strong count underflow")
	}
	b.destroyPayload()
	b.decWeak()
}

// incWeak adds a weak reference. The caller must hold one (weak or the
// strong collective's).
func (b *controlBlock) incWeak() {
	if atomic.AddInt64(&b.weak, 1) <= 1 {
		panic("charon: weak increment on a released control block")
	}
}

// decWeak drops a weak reference; the last one releases the block.
func (b *controlBlock) decWeak() {
	n := atomic.AddInt64(&b.weak, -1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("charon: weak count underflow")
	}
	b.releaseBlock()
}

// destroyPayload runs the destructor once. Only reached on the strong
// 1->0 edge, which the counter arithmetic makes unique.
func (b *controlBlock) destroyPayload() {
	p := atomic.LoadPointer(&b.payload)
	if b.destroy != nil {
		b.destroy(p)
	}
}

// releaseBlock retires the block into the process refcount domain
// instead of freeing it. A reader in AtomicSharedPtr.Load may hold the
// block in a hazard cell between the pointer read and the failed
// adoption; the scan defers finalization until no cell holds it. This
// is the "block survives until weak = 0" rule with the tail extended by
// outstanding protections.
func (b *controlBlock) releaseBlock() {
	DefaultDomain().Retire(unsafe.Pointer(b), finalizeBlock)
}

// finalizeBlock severs the payload so an out-of-place block does not keep
// the managed object reachable. An inline MakeShared block shares one
// allocation with its value, which stays reachable as long as the block
// does. The block memory itself is garbage collected once the last raw
// reference lets go.
func finalizeBlock(raw unsafe.Pointer) {
	b := (*controlBlock)(raw)
	atomic.StorePointer(&b.payload, nil)
}

// get returns the payload pointer. Valid only while the caller holds a
// strong reference.
func (b *controlBlock) get() unsafe.Pointer {
	return atomic.LoadPointer(&b.payload)
}

// useCount returns the current strong count. Racy by nature; meaningful
// only for tests and diagnostics.
func (b *controlBlock) useCount() int64 {
	return atomic.LoadInt64(&b.strong)
}

// weakCount returns the current weak count, including the strong
// collective's reference while strong > 0.
func (b *controlBlock) weakCount() int64 {
	return atomic.LoadInt64(&b.weak)
}
