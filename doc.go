// Package charon provides hazard-pointer based safe memory reclamation
// for lock-free data structures, together with the reference-counted and
// atomic smart pointers that cooperate with it.
//
// # Overview
//
// Lock-free algorithms face one recurring problem: a reader loads a
// pointer from a shared slot, but before it dereferences the pointee a
// writer may have unlinked and destroyed it. Charon solves this with two
// cooperating mechanisms:
//
//   - Hazard pointers: a reader publishes the pointer it is about to
//     dereference into a hazard cell. Writers never destroy a retired
//     object while any cell still holds its address; retired objects wait
//     on a deferred list until a scan proves them unreachable.
//   - Split reference counting: a control block carries strong and weak
//     counts with an increment-if-not-zero primitive, so a reader can
//     safely adopt a reference from a slot that a writer is concurrently
//     replacing.
//
// AtomicSharedPtr composes both: hazard protection makes the pointer read
// safe, increment-if-not-zero makes the adoption safe. Either alone is
// insufficient.
//
// # Quick Start
//
//	import "github.com/agilira/charon"
//
//	type Settings struct {
//	    Endpoint string
//	}
//
//	func main() {
//	    // A shared, atomically replaceable configuration snapshot.
//	    current := charon.NewAtomicSharedPtr(charon.MakeShared(Settings{Endpoint: "a"}))
//	    defer current.Close()
//
//	    // Readers: always see a complete snapshot, never a destroyed one.
//	    snap := current.Load()
//	    _ = snap.Get().Endpoint
//	    snap.Close()
//
//	    // Writer: replace the snapshot; the old block is reclaimed once
//	    // every reader has let go.
//	    current.Store(charon.MakeShared(Settings{Endpoint: "b"}))
//	}
//
// # Hazard Pointers Directly
//
// Algorithms that manage their own nodes use the domain API:
//
//	hp, _ := charon.NewHazardPointer()
//	defer hp.Close()
//
//	node := charon.Protect(hp, &head) // head is an atomic.Pointer[Node]
//	// node is safe to dereference until hp is reset or closed.
//
//	// Writer side, after unlinking a node:
//	charon.Retire(charon.DefaultDomain(), old, freeNode)
//
// # Features
//
//   - Wait-free protection: Protect retries only while the source keeps
//     changing; each attempt is a constant number of steps
//   - Amortised O(1) retire with batched, threshold-driven scans
//   - Split strong/weak counting with increment-if-not-zero adoption
//   - Lock-free AtomicSharedPtr: Load, Store, Exchange, CompareAndSwap
//   - MarkedPtr: one tag bit packed into the pointer for logical deletion
//   - Pluggable back-off policies for CAS loops
//   - Structured errors with error codes (go-errors)
//   - Hot-reloadable domain tuning via Argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package charon
