// hazard.go: hazard pointer handles and guarded pointers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package charon

import (
	"sync/atomic"
	"unsafe"
)

// HazardPointer owns one hazard cell of a domain. Publishing a pointer
// into the cell asserts "this goroutine may dereference the pointee; do
// not reclaim it" to every Retire in the same domain.
//
// A handle protects at most one pointer at a time; algorithms that walk
// two nodes at once (such as an ordered list with prev/curr) hold two
// handles. Handles are not safe for concurrent use by multiple
// goroutines, but may be handed off between them. Close returns the
// cell; a handle must not be copied.
type HazardPointer struct {
	domain *Domain
	cell   *hazardCell
}

// NewHazardPointer acquires a hazard pointer handle from the process-wide
// default domain.
func NewHazardPointer() (*HazardPointer, error) {
	return NewHazardPointerIn(DefaultDomain())
}

// NewHazardPointerIn acquires a hazard pointer handle from domain d.
// It fails with ErrCodeSlotsExhausted only when every cell is claimed
// and the domain was configured with DisableGrowth; by default the
// domain grows instead.
func NewHazardPointerIn(d *Domain) (*HazardPointer, error) {
	cell, err := d.acquireCell()
	if err != nil {
		return nil, err
	}
	return &HazardPointer{domain: d, cell: cell}, nil
}

// ResetProtection publishes an already-known pointer without a source
// reload. The caller asserts ptr cannot have been retired yet: either it
// was just read under another protection, or ownership rules keep it
// alive until after this publish.
func (h *HazardPointer) ResetProtection(ptr unsafe.Pointer) {
	h.mustBeOpen("ResetProtection")
	atomic.StorePointer(&h.cell.ptr, ptr)
}

// Reset clears the cell. The previously protected object becomes
// reclaimable by the next scan.
func (h *HazardPointer) Reset() {
	h.mustBeOpen("Reset")
	atomic.StorePointer(&h.cell.ptr, nil)
}

// Domain returns the domain the handle belongs to.
func (h *HazardPointer) Domain() *Domain {
	return h.domain
}

// Close clears the cell and returns it to the domain's free cache.
// The handle is unusable afterwards. Close is idempotent.
func (h *HazardPointer) Close() error {
	if h.cell == nil {
		return nil
	}
	h.cell.release()
	h.cell = nil
	return nil
}

func (h *HazardPointer) mustBeOpen(op string) {
	if h.cell == nil {
		panic("charon: " + op + " on closed hazard pointer handle")
	}
}

// protectLoop is the load-publish-reload protocol on an untyped source.
// Each iteration is a constant number of steps; the loop only continues
// while the source keeps changing, so it is wait-free the moment writers
// go quiet, and lock-free under sustained writes (every extra iteration
// is caused by a writer completing an update).
func (h *HazardPointer) protectLoop(load func() unsafe.Pointer) unsafe.Pointer {
	h.mustBeOpen("Protect")

	start := h.domain.timeProvider.Now()
	retries := 0
	p := load()
	for {
		atomic.StorePointer(&h.cell.ptr, p)
		q := load()
		if q == p {
			h.domain.metrics.RecordProtect(h.domain.timeProvider.Now()-start, retries)
			return p
		}
		p = q
		retries++
	}
}

// Protect publishes the pointer held by src into h's cell and confirms
// it is still current, retrying until publish and source agree. The
// returned pointer is safe to dereference until the next publish on h,
// Reset, or Close.
func Protect[T any](h *HazardPointer, src *atomic.Pointer[T]) *T {
	return (*T)(h.protectLoop(func() unsafe.Pointer {
		return unsafe.Pointer(src.Load())
	}))
}

// ProtectMarked is Protect for marked sources. The mark travels with the
// pointer: the cell publishes the stripped address (the object a scan
// must not free), the returned value preserves the tag.
func ProtectMarked[T any](h *HazardPointer, src *AtomicMarkedPtr[T]) MarkedPtr[T] {
	h.mustBeOpen("ProtectMarked")

	start := h.domain.timeProvider.Now()
	retries := 0
	m := src.Load()
	for {
		atomic.StorePointer(&h.cell.ptr, unsafe.Pointer(m.Ptr()))
		q := src.Load()
		if q == m {
			h.domain.metrics.RecordProtect(h.domain.timeProvider.Now()-start, retries)
			return m
		}
		m = q
		retries++
	}
}

// TryProtect publishes expected and confirms src still holds it.
// On success the protection stands and true is returned. On failure the
// cell is cleared and the caller re-reads the source; the single-shot
// shape suits CAS loops that already reload on every lap.
func TryProtect[T any](h *HazardPointer, src *atomic.Pointer[T], expected *T) bool {
	h.mustBeOpen("TryProtect")

	atomic.StorePointer(&h.cell.ptr, unsafe.Pointer(expected))
	if src.Load() != expected {
		atomic.StorePointer(&h.cell.ptr, nil)
		return false
	}
	return true
}

// Guarded combines a hazard pointer handle with the typed pointer it
// protects: a dereference-safe, non-owning reference. Validity ends at
// Close, which releases the underlying cell.
type Guarded[T any] struct {
	h *HazardPointer
	p *T
}

// GuardedLoad protects the pointer held by src with a fresh handle from
// domain d and wraps both. The only failure is cell acquisition.
func GuardedLoad[T any](d *Domain, src *atomic.Pointer[T]) (Guarded[T], error) {
	h, err := NewHazardPointerIn(d)
	if err != nil {
		return Guarded[T]{}, err
	}
	return Guarded[T]{h: h, p: Protect(h, src)}, nil
}

// Get returns the protected pointer, nil for an empty guard.
func (g Guarded[T]) Get() *T {
	return g.p
}

// Deref returns the protected value. Panics on an empty guard.
func (g Guarded[T]) Deref() T {
	return *g.p
}

// Empty reports whether the guard protects nothing.
func (g Guarded[T]) Empty() bool {
	return g.p == nil
}

// Close releases the protection and the underlying cell. The previously
// guarded object becomes reclaimable by anyone. Idempotent.
func (g *Guarded[T]) Close() error {
	g.p = nil
	if g.h == nil {
		return nil
	}
	err := g.h.Close()
	g.h = nil
	return err
}
