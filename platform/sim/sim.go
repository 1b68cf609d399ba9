// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sim implements an in-memory platform backend, used by the default
// build and by the test suite. PMP register files keep a write trace so that
// tests can verify fail-closed programming order, and individual harts can
// be stalled to exercise the notification timeout path.
package sim

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/rvsec/spmon/platform"
)

// Platform is a simulated multi-hart RISC-V machine.
type Platform struct {
	mu sync.Mutex

	harts int
	slots int
	csr   []*CSRFile
	ipi   *Mailbox
	mem   *Memory

	halted map[int]string
}

// New returns a simulated platform with the given hart count, PMP slot count
// and physical memory window.
func New(harts, slots int, memBase, memSize uint64) *Platform {
	p := &Platform{
		harts:  harts,
		slots:  slots,
		ipi:    NewMailbox(harts),
		mem:    NewMemory(memBase, memSize),
		halted: make(map[int]string),
	}

	for i := 0; i < harts; i++ {
		p.csr = append(p.csr, NewCSRFile(slots))
	}

	return p
}

// Harts returns the number of simulated harts.
func (p *Platform) Harts() int {
	return p.harts
}

// PMPSlots returns the number of PMP entries per hart.
func (p *Platform) PMPSlots() int {
	return p.slots
}

// PMP returns the PMP register file of the given hart.
func (p *Platform) PMP(hart int) platform.PMPRegisters {
	return p.csr[hart]
}

// CSR returns the concrete simulated register file, exposing the write trace
// to tests.
func (p *Platform) CSR(hart int) *CSRFile {
	return p.csr[hart]
}

// IPI returns the simulated software interrupt transport.
func (p *Platform) IPI() platform.Transport {
	return p.ipi
}

// Mem returns the simulated physical memory window.
func (p *Platform) Mem() platform.Memory {
	return p.mem
}

// HaltHart parks a simulated hart.
func (p *Platform) HaltHart(hart int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.halted[hart]; ok {
		return
	}

	p.halted[hart] = reason
	log.Printf("SM halting hart %d: %s", hart, reason)
}

// Halted returns the halt reason for a hart, if any.
func (p *Platform) Halted(hart int) (reason string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reason, ok = p.halted[hart]

	return
}

// Stall makes a hart stop servicing software interrupts, simulating an
// unresponsive or adversarially wedged hart.
func (p *Platform) Stall(hart int, stalled bool) {
	p.ipi.stall(hart, stalled)
}

// pageSize is the granularity of the sparse simulated memory.
const pageSize = 0x1000

// Memory is a byte-addressable physical memory window, backed by a sparse
// page map so that large physical layouts cost nothing until touched.
type Memory struct {
	mu    sync.Mutex
	base  uint64
	size  uint64
	pages map[uint64][]byte
}

// NewMemory returns a memory window covering [base, base+size).
func NewMemory(base, size uint64) *Memory {
	return &Memory{
		base:  base,
		size:  size,
		pages: make(map[uint64][]byte),
	}
}

func (m *Memory) page(addr uint64) []byte {
	pa := addr &^ (pageSize - 1)

	p, ok := m.pages[pa]

	if !ok {
		p = make([]byte, pageSize)
		m.pages[pa] = p
	}

	return p
}

func (m *Memory) access(addr uint64, buf []byte, write bool) error {
	if addr < m.base || addr+uint64(len(buf)) < addr || addr+uint64(len(buf)) > m.base+m.size {
		return fmt.Errorf("access %#x+%d outside memory window", addr, len(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for n := 0; n < len(buf); {
		p := m.page(addr)
		off := addr & (pageSize - 1)

		var c int

		if write {
			c = copy(p[off:], buf[n:])
		} else {
			c = copy(buf[n:], p[off:])
		}

		n += c
		addr += uint64(c)
	}

	return nil
}

// Read copies len(buf) bytes at addr into buf.
func (m *Memory) Read(addr uint64, buf []byte) error {
	return m.access(addr, buf, false)
}

// Write copies buf to addr.
func (m *Memory) Write(addr uint64, buf []byte) error {
	return m.access(addr, buf, true)
}

// Mailbox is the simulated software interrupt transport. Raising an
// interrupt invokes the registered handler on a fresh goroutine, standing in
// for the target hart's trap path.
type Mailbox struct {
	mu      sync.Mutex
	harts   int
	fn      func(hart int)
	stalled map[int]bool
}

// NewMailbox returns a transport for the given number of harts.
func NewMailbox(harts int) *Mailbox {
	return &Mailbox{
		harts:   harts,
		stalled: make(map[int]bool),
	}
}

// Register installs the software interrupt handler.
func (m *Mailbox) Register(fn func(hart int)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fn = fn
}

// Raise triggers the handler for the target hart. Stalled harts silently
// drop the interrupt.
func (m *Mailbox) Raise(hart int) error {
	m.mu.Lock()
	fn := m.fn
	stalled := m.stalled[hart]
	m.mu.Unlock()

	if hart < 0 || hart >= m.harts {
		return errors.New("invalid hart")
	}

	if fn == nil {
		return errors.New("no handler registered")
	}

	if stalled {
		return nil
	}

	go fn(hart)

	return nil
}

func (m *Mailbox) stall(hart int, stalled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stalled[hart] = stalled
}
