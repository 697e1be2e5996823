// domain_test.go: unit tests for domains, retire and the scan
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

func mustDomain(t *testing.T, config Config) *Domain {
	t.Helper()
	d, err := NewDomain(config)
	if err != nil {
		t.Fatalf("NewDomain returned error: %v", err)
	}
	return d
}

func TestNewDomain(t *testing.T) {
	d := mustDomain(t, Config{})
	defer func() { _ = d.Close() }()

	stats := d.Stats()
	if stats.Records != 1 {
		t.Errorf("expected 1 initial record, got %d", stats.Records)
	}
	if stats.ActiveCells != 0 {
		t.Errorf("expected no claimed cells, got %d", stats.ActiveCells)
	}
}

func TestDefaultDomain_Singleton(t *testing.T) {
	if DefaultDomain() != DefaultDomain() {
		t.Error("DefaultDomain should return the same instance")
	}
}

func TestDefaultDomain_CloseRefused(t *testing.T) {
	if err := DefaultDomain().Close(); !IsDomainClosed(err) {
		t.Errorf("closing the default domain should be refused, got %v", err)
	}
}

func TestDomain_Retire_BatchesUntilThreshold(t *testing.T) {
	d := mustDomain(t, Config{MinRetired: 1000})
	defer func() { _ = d.Close() }()

	var freed int64
	for i := 0; i < 10; i++ {
		Retire(d, new(int), func(*int) { atomic.AddInt64(&freed, 1) })
	}

	if atomic.LoadInt64(&freed) != 0 {
		t.Error("deleters ran below the scan threshold")
	}

	d.Flush()
	if got := atomic.LoadInt64(&freed); got != 10 {
		t.Errorf("expected 10 deleters after Flush, got %d", got)
	}
}

func TestDomain_Retire_ThresholdTriggersScan(t *testing.T) {
	d := mustDomain(t, Config{MinRetired: 0, ScanMultiplier: 1, SlotsPerRecord: 1})
	defer func() { _ = d.Close() }()

	// Threshold is 1*cells = 1: the second retire into the same shard
	// must scan. Retires scatter across shards, so push enough to make
	// every shard cross it.
	var freed int64
	for i := 0; i < 10*retireShardCount; i++ {
		Retire(d, new(int), func(*int) { atomic.AddInt64(&freed, 1) })
	}
	if atomic.LoadInt64(&freed) == 0 {
		t.Error("expected threshold-driven scans to free retired objects")
	}
}

func TestDomain_Scan_SparesProtected(t *testing.T) {
	d := mustDomain(t, Config{MinRetired: 1000})
	defer func() { _ = d.Close() }()

	var slot atomic.Pointer[int]
	obj := new(int)
	*obj = 7
	slot.Store(obj)

	h, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatalf("NewHazardPointerIn: %v", err)
	}

	p := Protect(h, &slot)
	if p != obj {
		t.Fatalf("Protect returned %p, want %p", p, obj)
	}

	// Unlink and retire while protected.
	slot.Store(nil)
	var freed int64
	Retire(d, obj, func(*int) { atomic.AddInt64(&freed, 1) })

	d.Flush()
	if atomic.LoadInt64(&freed) != 0 {
		t.Fatal("scan freed a protected object")
	}
	if !d.Protected(unsafe.Pointer(obj)) {
		t.Error("Protected should report the published pointer")
	}
	if *p != 7 {
		t.Error("protected object corrupted")
	}

	// Release the protection: the next scan may free it.
	h.Reset()
	d.Flush()
	if atomic.LoadInt64(&freed) != 1 {
		t.Errorf("expected deleter after protection released, got %d", freed)
	}

	if err := h.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestDomain_RetireFunc(t *testing.T) {
	d := mustDomain(t, Config{MinRetired: 1000})
	defer func() { _ = d.Close() }()

	var ran int64
	d.RetireFunc(func() { atomic.AddInt64(&ran, 1) })
	if atomic.LoadInt64(&ran) != 0 {
		t.Error("cleanup ran before any scan")
	}

	d.Flush()
	if atomic.LoadInt64(&ran) != 1 {
		t.Errorf("expected cleanup to run once, ran %d times", ran)
	}
}

func TestDomain_Retire_NilDeleterPanics(t *testing.T) {
	d := mustDomain(t, Config{})
	defer func() { _ = d.Close() }()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil deleter")
		}
	}()
	d.Retire(unsafe.Pointer(new(int)), nil)
}

func TestDomain_Growth(t *testing.T) {
	d := mustDomain(t, Config{SlotsPerRecord: 2})
	defer func() { _ = d.Close() }()

	handles := make([]*HazardPointer, 0, 5)
	for i := 0; i < 5; i++ {
		h, err := NewHazardPointerIn(d)
		if err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
		handles = append(handles, h)
	}

	stats := d.Stats()
	if stats.ActiveCells != 5 {
		t.Errorf("expected 5 active cells, got %d", stats.ActiveCells)
	}
	if stats.Records < 3 {
		t.Errorf("expected the record list to grow to >= 3, got %d", stats.Records)
	}

	for _, h := range handles {
		_ = h.Close()
	}
	if got := d.Stats().ActiveCells; got != 0 {
		t.Errorf("expected all cells released, got %d active", got)
	}
}

func TestDomain_DisableGrowth_Exhaustion(t *testing.T) {
	d := mustDomain(t, Config{SlotsPerRecord: 2, DisableGrowth: true})
	defer func() { _ = d.Close() }()

	h1, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatalf("first handle: %v", err)
	}
	h2, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}

	if _, err := NewHazardPointerIn(d); !IsSlotsExhausted(err) {
		t.Errorf("expected slot exhaustion, got %v", err)
	}

	// A released cell becomes claimable again.
	_ = h2.Close()
	h3, err := NewHazardPointerIn(d)
	if err != nil {
		t.Errorf("expected reuse of released cell, got %v", err)
	}
	_ = h3.Close()
	_ = h1.Close()
}

func TestDomain_CellReuse(t *testing.T) {
	d := mustDomain(t, Config{SlotsPerRecord: 1, DisableGrowth: true})
	defer func() { _ = d.Close() }()

	h1, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatal(err)
	}
	cell := h1.cell
	_ = h1.Close()

	h2, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatal(err)
	}
	if h2.cell != cell {
		t.Error("expected the released cell to be reused")
	}
	_ = h2.Close()
}

// Teardown drains everything: N goroutines retire into a private domain,
// all join, Close runs every deleter exactly once.
func TestDomain_Close_DrainsRetired(t *testing.T) {
	d := mustDomain(t, Config{MinRetired: 1 << 20}) // never scan on threshold

	const numGoroutines = 3
	const retiresPerGoroutine = 1000

	var freed int64
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := 0; g < numGoroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < retiresPerGoroutine; i++ {
				Retire(d, new(int), func(*int) { atomic.AddInt64(&freed, 1) })
			}
		}()
	}
	wg.Wait()

	if err := d.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if got := atomic.LoadInt64(&freed); got != numGoroutines*retiresPerGoroutine {
		t.Errorf("expected %d deleters, got %d", numGoroutines*retiresPerGoroutine, got)
	}

	stats := d.Stats()
	if stats.Pending != 0 {
		t.Errorf("expected no pending entries after Close, got %d", stats.Pending)
	}
	if stats.Retired != stats.Reclaimed {
		t.Errorf("retired %d != reclaimed %d after Close", stats.Retired, stats.Reclaimed)
	}
}

func TestDomain_Close_Twice(t *testing.T) {
	d := mustDomain(t, Config{})
	if err := d.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := d.Close(); !IsDomainClosed(err) {
		t.Errorf("second Close should report a closed domain, got %v", err)
	}
}

func TestDomain_Close_PanicsWithLiveHandles(t *testing.T) {
	d := mustDomain(t, Config{})
	h, err := NewHazardPointerIn(d)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Close() }()

	defer func() {
		if recover() == nil {
			t.Error("expected panic when closing a domain with live handles")
		}
	}()
	_ = d.Close()
}

func TestDomain_Stats(t *testing.T) {
	collector := &countingCollector{}
	d := mustDomain(t, Config{MinRetired: 1000, MetricsCollector: collector})
	defer func() { _ = d.Close() }()

	for i := 0; i < 5; i++ {
		Retire(d, new(int), func(*int) {})
	}
	d.Flush()

	stats := d.Stats()
	if stats.Retired != 5 || stats.Reclaimed != 5 || stats.Pending != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Scans == 0 {
		t.Error("expected at least one scan recorded")
	}
	if stats.LastScanUnixNano == 0 {
		t.Error("expected a scan timestamp")
	}
	if stats.ReclaimRatio() != 100 {
		t.Errorf("expected 100%% reclaim ratio, got %f", stats.ReclaimRatio())
	}

	if got := atomic.LoadInt64(&collector.retires); got != 5 {
		t.Errorf("collector saw %d retires, want 5", got)
	}
	if atomic.LoadInt64(&collector.scanFreed) != 5 {
		t.Errorf("collector saw %d freed, want 5", collector.scanFreed)
	}
}

func TestDomainStats_ReclaimRatio_Empty(t *testing.T) {
	var stats DomainStats
	if stats.ReclaimRatio() != 0 {
		t.Error("empty stats should have zero reclaim ratio")
	}
}

func TestDomain_SetTuning(t *testing.T) {
	d := mustDomain(t, Config{})
	defer func() { _ = d.Close() }()

	d.SetScanMultiplier(7)
	d.SetMinRetired(11)
	if d.ScanMultiplier() != 7 || d.MinRetired() != 11 {
		t.Errorf("tuning not applied: %d/%d", d.ScanMultiplier(), d.MinRetired())
	}

	// Out-of-range values are ignored.
	d.SetScanMultiplier(0)
	d.SetMinRetired(-1)
	if d.ScanMultiplier() != 7 || d.MinRetired() != 11 {
		t.Error("out-of-range tuning should be ignored")
	}
}

// countingCollector records metric calls for assertions.
type countingCollector struct {
	protects  int64
	retires   int64
	scans     int64
	scanFreed int64
	grows     int64
	retries   int64
}

func (c *countingCollector) RecordProtect(latencyNs int64, retries int) {
	atomic.AddInt64(&c.protects, 1)
}

func (c *countingCollector) RecordRetire() {
	atomic.AddInt64(&c.retires, 1)
}

func (c *countingCollector) RecordScan(latencyNs int64, freed int, kept int) {
	atomic.AddInt64(&c.scans, 1)
	atomic.AddInt64(&c.scanFreed, int64(freed))
}

func (c *countingCollector) RecordSlotGrow(records int) {
	atomic.AddInt64(&c.grows, 1)
}

func (c *countingCollector) RecordLoadRetry(reason string) {
	atomic.AddInt64(&c.retries, 1)
}
