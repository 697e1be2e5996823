// domain.go: hazard domain, retire and the reclamation scan
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package charon

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Domain is the scope within which hazard publications are honoured.
// Objects retired into a domain are reclaimed only after a scan of that
// domain's cells proves no handle still protects them.
//
// Most programs use the process-wide DefaultDomain. Private domains are
// useful to isolate the reclamation traffic of one data structure, or to
// bound teardown: Close drains everything retired into the domain.
//
// All methods are safe for concurrent use.
type Domain struct {
	// 64-bit atomic fields first for 32-bit alignment
	cells     int64  // total hazard cells across all records
	retired   int64  // stat: objects handed to Retire
	reclaimed int64  // stat: deleters run
	pending   int64  // stat: retired, not yet reclaimed
	scans     int64  // stat: scans executed
	lastScan  int64  // stat: unix nanos of most recent scan
	rngState  uint64 // xorshift64 state for shard selection

	// hot-reloadable tuning (atomic)
	scanMultiplier int64
	minRetired     int64

	records unsafe.Pointer // *hazardRecord list head (atomic push)
	closed  int32

	shards [retireShardCount]retireShard

	// immutable after NewDomain
	slotsPerRecord int
	disableGrowth  bool
	logger         Logger
	timeProvider   TimeProvider
	metrics        MetricsCollector
}

// NewDomain creates a reclamation domain with the given configuration.
// The configuration is validated and normalized; see Config.Validate.
func NewDomain(config Config) (*Domain, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d := &Domain{
		rngState:       0x9E3779B97F4A7C15, // golden-ratio seed, never zero
		scanMultiplier: int64(config.ScanMultiplier),
		minRetired:     int64(config.MinRetired),
		slotsPerRecord: config.SlotsPerRecord,
		disableGrowth:  config.DisableGrowth,
		logger:         config.Logger,
		timeProvider:   config.TimeProvider,
		metrics:        config.MetricsCollector,
	}
	d.pushRecord(newHazardRecord(d.slotsPerRecord))
	return d, nil
}

var (
	defaultDomainOnce sync.Once
	defaultDomain     *Domain
)

// DefaultDomain returns the lazily created process-wide domain.
// It uses DefaultConfig and is never closed; it outlives every goroutine
// that ever attached a handle to it.
func DefaultDomain() *Domain {
	defaultDomainOnce.Do(func() {
		d, err := NewDomain(DefaultConfig())
		if err != nil {
			// DefaultConfig always validates
			panic("charon: default domain construction failed: " + err.Error())
		}
		defaultDomain = d
	})
	return defaultDomain
}

// pushRecord publishes a record on the list head.
func (d *Domain) pushRecord(r *hazardRecord) {
	for {
		head := atomic.LoadPointer(&d.records)
		r.next = (*hazardRecord)(head)
		if atomic.CompareAndSwapPointer(&d.records, head, unsafe.Pointer(r)) {
			atomic.AddInt64(&d.cells, int64(len(r.cells)))
			return
		}
	}
}

// recordList returns the current list head. Records are never unlinked,
// so any snapshot of the head covers every cell that existed at the
// time of the load.
func (d *Domain) recordList() *hazardRecord {
	return (*hazardRecord)(atomic.LoadPointer(&d.records))
}

// acquireCell claims a free cell, growing the record list when every
// cell is taken and growth is enabled.
func (d *Domain) acquireCell() (*hazardCell, error) {
	if atomic.LoadInt32(&d.closed) != 0 {
		return nil, NewErrDomainClosed("acquire")
	}

	for {
		records := 0
		for r := d.recordList(); r != nil; r = r.next {
			records++
			for i := range r.cells {
				if c := &r.cells[i]; c.tryClaim() {
					return c, nil
				}
			}
		}

		if d.disableGrowth {
			return nil, NewErrSlotsExhausted(records, d.slotsPerRecord)
		}

		// Grow and retry the walk: the new record's cells are free, but
		// a racing acquirer may claim them first, so the loop, not this
		// record, is the guarantee.
		d.pushRecord(newHazardRecord(d.slotsPerRecord))
		d.metrics.RecordSlotGrow(records + 1)
		d.logger.Debug("hazard record list grown", "records", records+1)
	}
}

// Retire hands an object to deferred reclamation. The deleter runs
// exactly once, at some point after no hazard cell in this domain holds
// ptr. Retire never fails and never blocks on readers; if the retiring
// shard has crossed the scan threshold, the scan runs on this goroutine.
//
// The caller must have already unlinked ptr from every shared location:
// a pointer that can still be newly published is not retireable.
// Retiring the same object twice runs its deleter twice.
func (d *Domain) Retire(ptr unsafe.Pointer, deleter func(unsafe.Pointer)) {
	if deleter == nil {
		panic("charon: Retire requires a deleter")
	}

	atomic.AddInt64(&d.retired, 1)
	atomic.AddInt64(&d.pending, 1)
	d.metrics.RecordRetire()

	shard := d.nextShard()
	n := shard.push(&retiredEntry{ptr: ptr, deleter: deleter})
	if n > d.threshold() {
		d.scan(shard)
	}
}

// Retire hands a typed object to deferred reclamation in domain d.
// The deleter receives the typed pointer. Each call wraps deleter in a
// small adapter closure, allocated in addition to the entry; the untyped
// Domain.Retire with a shared deleter avoids that allocation.
func Retire[T any](d *Domain, p *T, deleter func(*T)) {
	d.Retire(unsafe.Pointer(p), func(raw unsafe.Pointer) {
		deleter((*T)(raw))
	})
}

// RetireFunc schedules an arbitrary cleanup to run at the next scan.
// The cleanup is not tied to a protectable pointer, so it never stays
// pending past the scan that drains its shard. Useful for resources
// whose release must wait until in-flight readers have quiesced.
func (d *Domain) RetireFunc(cleanup func()) {
	if cleanup == nil {
		panic("charon: RetireFunc requires a cleanup function")
	}

	atomic.AddInt64(&d.retired, 1)
	atomic.AddInt64(&d.pending, 1)
	d.metrics.RecordRetire()

	shard := d.nextShard()
	n := shard.push(&retiredEntry{ptr: nil, deleter: func(unsafe.Pointer) { cleanup() }})
	if n > d.threshold() {
		d.scan(shard)
	}
}

// threshold returns the current scan trigger: max(MinRetired,
// ScanMultiplier * cells). Both knobs are hot-reloadable.
func (d *Domain) threshold() int64 {
	t := atomic.LoadInt64(&d.scanMultiplier) * atomic.LoadInt64(&d.cells)
	if floor := atomic.LoadInt64(&d.minRetired); t < floor {
		t = floor
	}
	return t
}

// SetScanMultiplier retunes the scan threshold factor at runtime.
// Values below 1 are ignored. Takes effect on the next retire.
func (d *Domain) SetScanMultiplier(multiplier int) {
	if multiplier >= 1 {
		atomic.StoreInt64(&d.scanMultiplier, int64(multiplier))
	}
}

// SetMinRetired retunes the scan threshold floor at runtime.
// Negative values are ignored. Takes effect on the next retire.
func (d *Domain) SetMinRetired(floor int) {
	if floor >= 0 {
		atomic.StoreInt64(&d.minRetired, int64(floor))
	}
}

// ScanMultiplier returns the current scan threshold factor.
func (d *Domain) ScanMultiplier() int {
	return int(atomic.LoadInt64(&d.scanMultiplier))
}

// MinRetired returns the current scan threshold floor.
func (d *Domain) MinRetired() int {
	return int(atomic.LoadInt64(&d.minRetired))
}

// nextShard picks a retire shard with an xorshift64 draw, CAS-advanced
// so concurrent retirers scatter instead of convoying on one shard.
func (d *Domain) nextShard() *retireShard {
	for {
		x := atomic.LoadUint64(&d.rngState)
		n := x
		n ^= n << 13
		n ^= n >> 7
		n ^= n << 17
		if atomic.CompareAndSwapUint64(&d.rngState, x, n) {
			return &d.shards[n&(retireShardCount-1)]
		}
	}
}

// protectedSet snapshots every claimed cell into a hash set.
// The snapshot is taken after the retiring store that triggered the
// scan; Go's atomics are sequentially consistent, which covers the
// acquire ordering the partition below relies on.
func (d *Domain) protectedSet() map[unsafe.Pointer]struct{} {
	set := make(map[unsafe.Pointer]struct{}, atomic.LoadInt64(&d.cells))
	for r := d.recordList(); r != nil; r = r.next {
		for i := range r.cells {
			if p := atomic.LoadPointer(&r.cells[i].ptr); p != nil {
				set[p] = struct{}{}
			}
		}
	}
	return set
}

// scan is the reclamation pass: drain the shard, partition its entries
// against the protected set, free the unprotected, re-push the rest.
// Concurrent scans of distinct shards are independent; concurrent scans
// of the same shard are harmless because drain is an atomic detach.
func (d *Domain) scan(shard *retireShard) {
	start := d.timeProvider.Now()

	head := shard.drain()
	if head == nil {
		return
	}
	protected := d.protectedSet()

	freed, kept := 0, 0
	for e := head; e != nil; {
		next := e.next
		if _, ok := protected[e.ptr]; ok && e.ptr != nil {
			e.next = nil
			shard.push(e)
			kept++
		} else {
			e.deleter(e.ptr)
			atomic.AddInt64(&d.reclaimed, 1)
			atomic.AddInt64(&d.pending, -1)
			freed++
		}
		e = next
	}

	now := d.timeProvider.Now()
	atomic.AddInt64(&d.scans, 1)
	atomic.StoreInt64(&d.lastScan, now)
	d.metrics.RecordScan(now-start, freed, kept)
	if kept > 0 {
		d.logger.Debug("scan kept protected entries", "freed", freed, "kept", kept)
	}
}

// Flush scans every retire shard regardless of thresholds. Useful at
// quiesce points when the caller knows readers have drained and wants
// pending deleters to run now.
func (d *Domain) Flush() {
	for i := range d.shards {
		d.scan(&d.shards[i])
	}
}

// Protected reports whether ptr is currently published in any claimed
// cell of this domain. Intended for tests and debugging; the answer is
// stale the moment it returns.
func (d *Domain) Protected(ptr unsafe.Pointer) bool {
	for r := d.recordList(); r != nil; r = r.next {
		for i := range r.cells {
			if atomic.LoadPointer(&r.cells[i].ptr) == ptr {
				return true
			}
		}
	}
	return false
}

// Stats returns a snapshot of the domain's reclamation statistics.
func (d *Domain) Stats() DomainStats {
	records, active := 0, 0
	for r := d.recordList(); r != nil; r = r.next {
		records++
		for i := range r.cells {
			if atomic.LoadInt32(&r.cells[i].claimed) == cellClaimed {
				active++
			}
		}
	}
	return DomainStats{
		Retired:          uint64(atomic.LoadInt64(&d.retired)),
		Reclaimed:        uint64(atomic.LoadInt64(&d.reclaimed)),
		Pending:          uint64(atomic.LoadInt64(&d.pending)),
		Scans:            uint64(atomic.LoadInt64(&d.scans)),
		Records:          records,
		ActiveCells:      active,
		LastScanUnixNano: atomic.LoadInt64(&d.lastScan),
	}
}

// Close marks the domain closed, then drains every retire shard and runs
// all pending deleters. The caller asserts that every goroutine that
// used the domain has finished: Close panics if a hazard cell is still
// claimed, because a deleter running under a live protection is exactly
// the use-after-free this library exists to prevent.
//
// Close is not meaningful for DefaultDomain and returns an error if
// called on it. Calling Close twice returns ErrCodeDomainClosed.
func (d *Domain) Close() error {
	if d == defaultDomain {
		return NewErrDomainClosed("close of process-wide default domain")
	}
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return NewErrDomainClosed("close")
	}

	for r := d.recordList(); r != nil; r = r.next {
		for i := range r.cells {
			if atomic.LoadInt32(&r.cells[i].claimed) == cellClaimed {
				panic("charon: domain closed while hazard pointer handles are still live")
			}
		}
	}

	// With no claimed cells the protected set is empty, so every drain
	// frees everything. Deleters may themselves retire (a cleanup that
	// cascades); loop until all shards stay empty.
	for drained := false; !drained; {
		drained = true
		for i := range d.shards {
			for e := d.shards[i].drain(); e != nil; {
				drained = false
				next := e.next
				e.deleter(e.ptr)
				atomic.AddInt64(&d.reclaimed, 1)
				atomic.AddInt64(&d.pending, -1)
				e = next
			}
		}
	}
	return nil
}
