// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package platform abstracts the hardware the security monitor runs on: the
// per-hart PMP register files, the inter-processor interrupt transport and
// the physical memory window. The default backend is the simulated one in
// platform/sim, the sifive_u build uses the FU540 backend in platform/fu540.
package platform

// PMP address matching modes, tracking the riscv64 pmpcfg encoding.
const (
	PMPOff = iota
	PMPTor
	PMPNA4
	PMPNAPOT
)

// PMPRegisters represents a single hart's PMP CSR file. Writes must only
// ever be issued by code executing on that hart (or, at boot, before other
// harts are released).
type PMPRegisters interface {
	// WritePMP sets one PMP entry. addr carries the pmpaddr register
	// encoding (address bits [55:2], NAPOT size in the low bits).
	WritePMP(slot int, addr uint64, r, w, x bool, mode int, lock bool) error

	// ReadPMP returns one PMP entry.
	ReadPMP(slot int) (addr uint64, r, w, x bool, mode int, lock bool, err error)
}

// Transport delivers software interrupts between harts.
type Transport interface {
	// Register installs the handler invoked on the target hart when a
	// software interrupt is raised for it.
	Register(fn func(hart int))

	// Raise triggers a software interrupt on the target hart.
	Raise(hart int) error
}

// Memory is the physical memory window used for enclave payload transfer.
type Memory interface {
	Read(addr uint64, buf []byte) error
	Write(addr uint64, buf []byte) error
}

// Platform carries the hardware parameters and capabilities handed to the
// monitor at initialization.
type Platform interface {
	// Harts returns the number of harts.
	Harts() int

	// PMPSlots returns the number of PMP entries per hart.
	PMPSlots() int

	// PMP returns the PMP register file of the given hart.
	PMP(hart int) PMPRegisters

	// IPI returns the software interrupt transport.
	IPI() Transport

	// Mem returns the physical memory window.
	Mem() Memory

	// HaltHart parks a hart after an unrecoverable isolation violation.
	// It does not return control to lower privilege levels on that hart.
	HaltHart(hart int, reason string)
}
