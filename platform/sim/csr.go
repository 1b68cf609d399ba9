// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"fmt"
	"sync"

	"github.com/rvsec/spmon/platform"
)

// PMPEntry mirrors one pmpaddr/pmpcfg pair.
type PMPEntry struct {
	Addr uint64
	R    bool
	W    bool
	X    bool
	Mode int
	Lock bool
}

// CSRFile is a simulated per-hart PMP register file. Every write is appended
// to Trace in program order.
type CSRFile struct {
	mu      sync.Mutex
	entries []PMPEntry

	// Trace records WritePMP calls in the order they were issued.
	Trace []TraceEntry
}

// TraceEntry is one recorded PMP register write.
type TraceEntry struct {
	Slot  int
	Entry PMPEntry
}

// NewCSRFile returns a register file with the given number of PMP slots.
func NewCSRFile(slots int) *CSRFile {
	return &CSRFile{
		entries: make([]PMPEntry, slots),
	}
}

// WritePMP sets one PMP entry.
func (c *CSRFile) WritePMP(slot int, addr uint64, r, w, x bool, mode int, lock bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot < 0 || slot >= len(c.entries) {
		return fmt.Errorf("invalid PMP slot %d", slot)
	}

	if c.entries[slot].Lock {
		return fmt.Errorf("PMP slot %d is locked", slot)
	}

	e := PMPEntry{
		Addr: addr,
		R:    r,
		W:    w,
		X:    x,
		Mode: mode,
		Lock: lock,
	}

	c.entries[slot] = e
	c.Trace = append(c.Trace, TraceEntry{Slot: slot, Entry: e})

	return nil
}

// ReadPMP returns one PMP entry.
func (c *CSRFile) ReadPMP(slot int) (addr uint64, r, w, x bool, mode int, lock bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot < 0 || slot >= len(c.entries) {
		return 0, false, false, false, 0, false, fmt.Errorf("invalid PMP slot %d", slot)
	}

	e := c.entries[slot]

	return e.Addr, e.R, e.W, e.X, e.Mode, e.Lock, nil
}

// Entries returns a copy of the current register state.
func (c *CSRFile) Entries() []PMPEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PMPEntry, len(c.entries))
	copy(out, c.entries)

	return out
}

// Access emulates a PMP check: it returns whether an M-mode-delegated access
// of the given type to addr is allowed by the current configuration, applying
// lowest-match-wins priority. A miss on every entry denies, matching PMP
// behavior for S/U mode.
func (c *CSRFile) Access(addr uint64, write, exec bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var base uint64

	for _, e := range c.entries {
		switch e.Mode {
		case platform.PMPOff:
			base = e.Addr
			continue
		case platform.PMPTor:
			if addr >= base && addr < e.Addr {
				return c.allowed(e, write, exec)
			}
			base = e.Addr
		case platform.PMPNA4:
			if addr >= e.Addr && addr < e.Addr+4 {
				return c.allowed(e, write, exec)
			}
		case platform.PMPNAPOT:
			start, size := napotDecode(e.Addr)
			if addr >= start && addr < start+size {
				return c.allowed(e, write, exec)
			}
		}
	}

	return false
}

func (c *CSRFile) allowed(e PMPEntry, write, exec bool) bool {
	switch {
	case exec:
		return e.X
	case write:
		return e.W
	default:
		return e.R
	}
}

// napotDecode expands a pmpaddr NAPOT encoding (address and size packed in
// the low bits) into a start address and size.
func napotDecode(pmpaddr uint64) (start, size uint64) {
	ones := 0

	for pmpaddr&(1<<uint(ones)) != 0 {
		ones += 1
	}

	size = 1 << uint(ones+3)
	start = (pmpaddr &^ ((1 << uint(ones+1)) - 1)) << 2

	return
}
