// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build sifive_u
// +build sifive_u

// Package fu540 implements the platform backend for the SiFive FU540 (qemu
// sifive_u machine), programming the real PMP CSRs through TamaGo and
// raising software interrupts through the CLINT.
package fu540

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"unsafe"

	"github.com/usbarmory/tamago/soc/sifive/fu540"

	"github.com/rvsec/spmon/platform"
)

// NumHarts is the FU540 hart count (one monitor core plus four U54s).
const NumHarts = 5

// PMPSlots is the number of PMP entries implemented per hart.
const PMPSlots = 16

// Platform is the FU540 hardware backend.
type Platform struct {
	ipi *clintTransport
	mem *physMemory
}

// New returns the FU540 platform.
func New() *Platform {
	return &Platform{
		ipi: &clintTransport{},
		mem: &physMemory{},
	}
}

// Harts returns the hart count.
func (p *Platform) Harts() int {
	return NumHarts
}

// PMPSlots returns the number of PMP entries per hart.
func (p *Platform) PMPSlots() int {
	return PMPSlots
}

// PMP returns the PMP register file. PMP CSRs are only reachable from the
// hart that owns them: the monitor's self-modification discipline guarantees
// that writes are always issued on the targeted hart, so a single CPU
// accessor serves every hart.
func (p *Platform) PMP(hart int) platform.PMPRegisters {
	return &pmpCSR{}
}

// IPI returns the CLINT software interrupt transport.
func (p *Platform) IPI() platform.Transport {
	return p.ipi
}

// Mem returns the physical memory window.
func (p *Platform) Mem() platform.Memory {
	return p.mem
}

// HaltHart parks the calling hart. Isolation state is unknown at this point,
// execution must not fall back to lower privilege levels.
func (p *Platform) HaltHart(hart int, reason string) {
	log.Printf("SM halting hart %d: %s", hart, reason)

	for {
		runtime.Gosched()
	}
}

// pmpCSR adapts the TamaGo FU540 PMP accessors.
type pmpCSR struct{}

func (c *pmpCSR) WritePMP(slot int, addr uint64, r, w, x bool, mode int, lock bool) error {
	return fu540.RV64.WritePMP(slot, addr, r, w, x, mode, lock)
}

func (c *pmpCSR) ReadPMP(slot int) (addr uint64, r, w, x bool, mode int, lock bool, err error) {
	var a int

	addr, r, w, x, a, lock, err = fu540.RV64.ReadPMP(slot)
	mode = a

	return
}

// clintTransport raises machine software interrupts through the CLINT MSIP
// registers.
type clintTransport struct {
	mu sync.Mutex
	fn func(hart int)
}

func (t *clintTransport) Register(fn func(hart int)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fn = fn
}

func (t *clintTransport) Raise(hart int) error {
	if hart < 0 || hart >= NumHarts {
		return fmt.Errorf("invalid hart %d", hart)
	}

	msip := (*uint32)(unsafe.Pointer(uintptr(fu540.CLINT_BASE + 4*uint64(hart))))
	*msip = 1

	return nil
}

// ServiceIPI must be called from the machine software interrupt trap handler
// of the receiving hart. It clears the pending MSIP bit and runs the
// registered handler.
func (t *clintTransport) ServiceIPI(hart int) {
	msip := (*uint32)(unsafe.Pointer(uintptr(fu540.CLINT_BASE + 4*uint64(hart))))
	*msip = 0

	t.mu.Lock()
	fn := t.fn
	t.mu.Unlock()

	if fn != nil {
		fn(hart)
	}
}

// physMemory accesses physical memory directly, the monitor executes in
// M-mode with a flat view of the address space.
type physMemory struct{}

func (m *physMemory) Read(addr uint64, buf []byte) error {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(buf))
	copy(buf, src)

	return nil
}

func (m *physMemory) Write(addr uint64, buf []byte) error {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(buf))
	copy(dst, buf)

	return nil
}
