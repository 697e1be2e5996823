// hazard_test.go: unit tests for hazard pointer handles and guards
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package charon

import (
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"
)

func TestNewHazardPointer_DefaultDomain(t *testing.T) {
	h, err := NewHazardPointer()
	if err != nil {
		t.Fatalf("NewHazardPointer: %v", err)
	}
	if h.Domain() != DefaultDomain() {
		t.Error("expected the default domain")
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestHazardPointer_Protect_Basic(t *testing.T) {
	d := mustDomain(t, Config{})
	defer func() { _ = d.Close() }()

	h, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Close() }()

	var slot atomic.Pointer[int]
	obj := new(int)
	*obj = 99
	slot.Store(obj)

	p := Protect(h, &slot)
	if p != obj {
		t.Fatalf("Protect returned %p, want %p", p, obj)
	}
	if !d.Protected(unsafe.Pointer(obj)) {
		t.Error("protected pointer not visible in the domain")
	}

	h.Reset()
	if d.Protected(unsafe.Pointer(obj)) {
		t.Error("Reset should clear the publication")
	}
}

func TestHazardPointer_Protect_Nil(t *testing.T) {
	h, err := NewHazardPointer()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Close() }()

	var slot atomic.Pointer[int]
	if p := Protect(h, &slot); p != nil {
		t.Errorf("protecting a nil source should return nil, got %p", p)
	}
}

// Protect must converge once the source stops changing, and the value it
// returns must be published at return time.
func TestHazardPointer_Protect_UnderMutation(t *testing.T) {
	d := mustDomain(t, Config{})
	defer func() { _ = d.Close() }()

	var slot atomic.Pointer[int]
	slot.Store(new(int))

	var stop int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for atomic.LoadInt32(&stop) == 0 {
			slot.Store(new(int))
		}
	}()

	for i := 0; i < 1000; i++ {
		h, err := NewHazardPointerIn(d)
		if err != nil {
			t.Fatal(err)
		}
		p := Protect(h, &slot)
		if p == nil {
			t.Fatal("source never holds nil")
		}
		if !d.Protected(unsafe.Pointer(p)) {
			t.Fatal("returned pointer is not published")
		}
		_ = h.Close()
	}

	atomic.StoreInt32(&stop, 1)
	wg.Wait()
}

func TestHazardPointer_TryProtect(t *testing.T) {
	d := mustDomain(t, Config{})
	defer func() { _ = d.Close() }()

	h, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Close() }()

	var slot atomic.Pointer[int]
	obj := new(int)
	slot.Store(obj)

	if !TryProtect(h, &slot, obj) {
		t.Fatal("TryProtect with the current value should succeed")
	}
	if !d.Protected(unsafe.Pointer(obj)) {
		t.Error("successful TryProtect should leave the publication standing")
	}

	// Source moved on: the single shot fails and clears the cell.
	other := new(int)
	slot.Store(other)
	if TryProtect(h, &slot, obj) {
		t.Error("TryProtect with a stale expectation should fail")
	}
	if d.Protected(unsafe.Pointer(obj)) {
		t.Error("failed TryProtect should clear the publication")
	}
}

func TestHazardPointer_ResetProtection(t *testing.T) {
	d := mustDomain(t, Config{})
	defer func() { _ = d.Close() }()

	h, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Close() }()

	obj := new(int)
	h.ResetProtection(unsafe.Pointer(obj))
	if !d.Protected(unsafe.Pointer(obj)) {
		t.Error("ResetProtection should publish without a reload")
	}
}

func TestHazardPointer_ProtectMarked(t *testing.T) {
	d := mustDomain(t, Config{})
	defer func() { _ = d.Close() }()

	h, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Close() }()

	obj := new(int)
	var slot AtomicMarkedPtr[int]
	slot.Store(MarkPtr(obj, true))

	m := ProtectMarked(h, &slot)
	if !m.IsMarked() || m.Ptr() != obj {
		t.Error("ProtectMarked should preserve the tag and the address")
	}
	// The publication strips the tag: the scan compares object addresses.
	if !d.Protected(unsafe.Pointer(obj)) {
		t.Error("the cell should hold the stripped address")
	}
}

func TestHazardPointer_Close_Idempotent(t *testing.T) {
	h, err := NewHazardPointer()
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestHazardPointer_UseAfterClosePanics(t *testing.T) {
	h, err := NewHazardPointer()
	if err != nil {
		t.Fatal(err)
	}
	_ = h.Close()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on Reset after Close")
		}
	}()
	h.Reset()
}

func TestGuardedLoad(t *testing.T) {
	d := mustDomain(t, Config{MinRetired: 1000})
	defer func() { _ = d.Close() }()

	var slot atomic.Pointer[int]
	obj := new(int)
	*obj = 17
	slot.Store(obj)

	g, err := GuardedLoad(d, &slot)
	if err != nil {
		t.Fatalf("GuardedLoad: %v", err)
	}
	if g.Empty() || g.Get() != obj || g.Deref() != 17 {
		t.Error("guard should expose the protected object")
	}

	// The guard keeps the object across unlink+retire.
	slot.Store(nil)
	var freed int64
	Retire(d, obj, func(*int) { atomic.AddInt64(&freed, 1) })
	d.Flush()
	if atomic.LoadInt64(&freed) != 0 {
		t.Fatal("guarded object reclaimed")
	}
	if g.Deref() != 17 {
		t.Error("guarded object corrupted")
	}

	if err := g.Close(); err != nil {
		t.Fatalf("guard Close: %v", err)
	}
	if !g.Empty() {
		t.Error("closed guard should be empty")
	}
	d.Flush()
	if atomic.LoadInt64(&freed) != 1 {
		t.Error("object should be reclaimable after the guard closes")
	}

	// Idempotent.
	if err := g.Close(); err != nil {
		t.Errorf("second guard Close: %v", err)
	}
}
