// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mem defines the physical memory layout of the security monitor and
// implements the enclave memory pool, a physical allocator whose blocks are
// always expressible as a single PMP NAPOT entry.
package mem

// This layout matches the qemu sifive_u physical map: RAM starts at
// 0x80000000, the monitor occupies the first 2MB, the untrusted OS follows,
// the default enclave pool sits at the top of RAM.
const (
	// Security Monitor
	MonitorStart = 0x80000000
	MonitorSize  = 0x00200000 // 2MB

	// Untrusted OS
	HostStart = 0x80200000
	HostSize  = 0x1fe00000 // 510MB

	// Default enclave memory pool
	PoolStart = 0xa0000000
	PoolSize  = 0x10000000 // 256MB
)

// PMP granularity. Every pool block is a multiple of the granule, power-of-two
// sized and naturally aligned.
const (
	GranuleShift = 12
	GranuleSize  = 1 << GranuleShift // 4KB
)
