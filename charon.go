// charon.go: package constants and tuning defaults
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charon

const (
	// Version of the Charon reclamation library
	Version = "v0.1.0-dev"

	// DefaultSlotsPerRecord is the default number of hazard cells per record
	DefaultSlotsPerRecord = 8

	// DefaultScanMultiplier scales the scan threshold against the total
	// number of hazard cells. A retire shard is scanned once its length
	// exceeds max(DefaultMinRetired, DefaultScanMultiplier * cells).
	DefaultScanMultiplier = 2

	// DefaultMinRetired is the floor on the scan threshold, so small
	// domains still batch deletions instead of scanning on every retire
	DefaultMinRetired = 64

	// retireShardCount is the number of retire lists a domain maintains.
	// Retires are spread across shards to keep the push CAS uncontended;
	// each shard crosses the threshold and scans independently.
	retireShardCount = 16

	// cacheLineSize is used to pad shared atomic cells so that two
	// goroutines publishing into neighbouring cells do not false-share
	cacheLineSize = 64
)
