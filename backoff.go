// backoff.go: pluggable back-off policies for CAS loops
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charon

import "runtime"

// BackOff is a delay strategy applied between CAS retries to reduce
// contention. Implementations carry per-loop state; construct one per
// retry loop, not one per goroutine.
type BackOff interface {
	// Step delays the caller once. Called after each failed attempt.
	Step()

	// Reset restores the initial delay. Called when an attempt succeeds
	// and the same instance is reused for the next loop.
	Reset()
}

// NoBackOff retries immediately. The right choice when contention is
// known to be low or the loop body already throttles itself.
type NoBackOff struct{}

func (NoBackOff) Step()  {}
func (NoBackOff) Reset() {}

// YieldBackOff yields the processor on every step.
type YieldBackOff struct{}

func (YieldBackOff) Step()  { runtime.Gosched() }
func (YieldBackOff) Reset() {}

const (
	// defaultSpinInitial is the starting spin count for ExpBackOff
	defaultSpinInitial = 4

	// defaultSpinLimit caps the doubling; past the cap each step also
	// yields the processor so a preempted lock-free writer can finish
	defaultSpinLimit = 1024
)

// ExpBackOff spins for a doubling number of iterations per step, capped
// at a limit; once capped it yields on every step. The spin loop body is
// kept opaque to the compiler through a sink variable.
type ExpBackOff struct {
	spins   uint32
	initial uint32
	limit   uint32
	sink    uint32
}

// NewExpBackOff returns an exponential back-off starting at initial
// spins per step and capping at limit. Non-positive arguments select the
// defaults.
func NewExpBackOff(initial, limit int) *ExpBackOff {
	if initial <= 0 {
		initial = defaultSpinInitial
	}
	if limit <= 0 {
		limit = defaultSpinLimit
	}
	if initial > limit {
		initial = limit
	}
	return &ExpBackOff{spins: uint32(initial), initial: uint32(initial), limit: uint32(limit)}
}

func (b *ExpBackOff) Step() {
	n := b.spins
	if n >= b.limit {
		runtime.Gosched()
	}
	var acc uint32
	for i := uint32(0); i < n; i++ {
		acc += i
	}
	b.sink += acc
	if n < b.limit {
		b.spins = min(n*2, b.limit)
	}
}

func (b *ExpBackOff) Reset() {
	b.spins = b.initial
}
