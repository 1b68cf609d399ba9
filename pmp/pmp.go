// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pmp tracks the intended physical memory protection layout of every
// hart and programs the PMP register files accordingly. It is the only
// component that writes isolation hardware, and it orders register writes
// fail closed: the most restrictive configuration is always reached no later
// than the least restrictive one is removed.
package pmp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rvsec/spmon/mem"
	"github.com/rvsec/spmon/platform"
)

// Owner identifies the principal a PMP entry belongs to.
type Owner int

const (
	// Host marks memory accessible to the untrusted OS.
	Host Owner = 0

	// Reserved marks memory accessible to no lower privilege principal
	// at all (the free enclave pool).
	Reserved Owner = -1
)

// Enclave region slots start above the monitor guard.
const firstSlot = 1

var (
	// ErrSlots is returned when a hart has no free PMP entry left.
	ErrSlots = errors.New("PMP entries exhausted")

	// ErrNotTracked is returned when revoking a region with no entry.
	ErrNotTracked = errors.New("region not tracked")

	// ErrViolation marks an isolation invariant violation. The affected
	// hart is halted before this is returned.
	ErrViolation = errors.New("isolation invariant violation")
)

// Perm is the access a granted entry allows.
type Perm struct {
	R bool
	W bool
	X bool
}

// Slot describes one tracked PMP entry, as reported by Snapshot.
type Slot struct {
	Index  int
	Region mem.Region
	Owner  Owner
}

type tracked struct {
	region mem.Region
	owner  Owner
	perm   Perm
	valid  bool
}

type hartState struct {
	active  Owner
	regions []tracked
}

// Manager owns the PMP configuration of all harts.
//
// Slot plan, in hardware priority order (lowest entry matches first): slot 0
// is the locked monitor guard, the middle slots hold one entry per tracked
// enclave region, the last slot is the host catch-all. A hart therefore
// either sees the catch-all (host running, every enclave region denied by a
// lower slot) or a single enclave grant with the catch-all removed.
type Manager struct {
	p platform.Platform

	mu    sync.Mutex
	harts []*hartState
}

// New returns a Manager for the given platform. InitHart must be called on
// (and from) every hart before it runs lower privilege code.
func New(p platform.Platform) *Manager {
	m := &Manager{p: p}

	for i := 0; i < p.Harts(); i++ {
		m.harts = append(m.harts, &hartState{
			active:  Host,
			regions: make([]tracked, p.PMPSlots()-firstSlot-1),
		})
	}

	return m
}

// InitHart installs the boot configuration on a hart: monitor guard denied
// and locked, host catch-all open.
func (m *Manager) InitHart(hart int) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	csr := m.p.PMP(hart)

	guard := encodeNAPOT(mem.MonitorStart, mem.MonitorSize)

	if err = csr.WritePMP(0, guard, false, false, false, platform.PMPNAPOT, true); err != nil {
		return
	}

	return m.applyLocked(hart, Host)
}

// Configure adds a deny-to-host entry for an enclave region on the given
// hart, recording the permissions granted when the owner is activated.
//
// Enclave regions are carved out of reserved pool spans, so full containment
// between an enclave region and a reserved span is expected. Enclave entries
// take the lowest free slot and reserved spans the highest, which keeps every
// grant at a lower index than the span denying its surroundings. Any other
// overlap is unreachable under correct callers: it halts the hart.
func (m *Manager) Configure(hart int, r mem.Region, owner Owner, perm Perm) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.harts[hart]

	for _, t := range h.regions {
		if !t.valid {
			continue
		}

		if t.region == r && t.owner == owner {
			// already tracked
			return nil
		}

		if !t.region.Overlaps(r) {
			continue
		}

		if t.owner == Reserved && owner != Reserved && within(r, t.region) {
			continue
		}

		if owner == Reserved && t.owner != Reserved && within(t.region, r) {
			continue
		}

		m.p.HaltHart(hart, fmt.Sprintf("region %v overlaps %v owned by %d", r, t.region, t.owner))
		return ErrViolation
	}

	free := -1

	if owner == Reserved {
		for i := len(h.regions) - 1; i >= 0; i-- {
			if !h.regions[i].valid {
				free = i
				break
			}
		}
	} else {
		for i := range h.regions {
			if !h.regions[i].valid {
				free = i
				break
			}
		}
	}

	if free < 0 {
		return ErrSlots
	}

	h.regions[free] = tracked{region: r, owner: owner, perm: perm, valid: true}

	return m.writeRegion(hart, free)
}

// within reports whether inner is fully contained in outer.
func within(inner, outer mem.Region) bool {
	return inner.Start >= outer.Start && inner.End() <= outer.End()
}

// Revoke removes the entry for a region from a hart. Revoking the region of
// the currently active enclave is an invariant violation.
func (m *Manager) Revoke(hart int, r mem.Region) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.harts[hart]

	for i, t := range h.regions {
		if !t.valid || t.region != r {
			continue
		}

		if h.active != Host && h.active == t.owner {
			m.p.HaltHart(hart, fmt.Sprintf("revoking region %v of active enclave %d", r, t.owner))
			return ErrViolation
		}

		h.regions[i] = tracked{}

		return m.p.PMP(hart).WritePMP(firstSlot+i, 0, false, false, false, platform.PMPOff, false)
	}

	return ErrNotTracked
}

// Activate swaps the hart's live configuration so that exactly one principal
// is addressable: the host, or the enclave owning one of the tracked
// regions.
func (m *Manager) Activate(hart int, owner Owner) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner == Reserved {
		m.p.HaltHart(hart, "activation of reserved owner")
		return ErrViolation
	}

	if owner != Host {
		found := false

		for _, t := range m.harts[hart].regions {
			if t.valid && t.owner == owner {
				found = true
				break
			}
		}

		if !found {
			return fmt.Errorf("owner %d has no region on hart %d", owner, hart)
		}
	}

	return m.applyLocked(hart, owner)
}

// Active returns the principal the hart's configuration currently grants
// access to.
func (m *Manager) Active(hart int) Owner {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.harts[hart].active
}

// Snapshot returns the tracked entries of a hart.
func (m *Manager) Snapshot(hart int) (slots []Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.harts[hart].regions {
		if !t.valid {
			continue
		}

		slots = append(slots, Slot{Index: firstSlot + i, Region: t.region, Owner: t.owner})
	}

	return
}

// applyLocked programs the full register sequence for an ownership change.
//
// Write order is the safety argument: switching to an enclave first removes
// the host catch-all (the hart now has access to nothing), then grants the
// enclave region. Switching to the host first demotes every region entry to
// deny, then restores the catch-all. At no intermediate state does the
// configuration grant more than the final state does.
func (m *Manager) applyLocked(hart int, owner Owner) (err error) {
	h := m.harts[hart]
	csr := m.p.PMP(hart)
	last := m.p.PMPSlots() - 1

	if owner != Host {
		if err = csr.WritePMP(last, 0, false, false, false, platform.PMPOff, false); err != nil {
			return
		}
	}

	// deny pass before grant pass
	for i, t := range h.regions {
		if t.valid && owner != Host && t.owner == owner {
			continue
		}

		if err = m.writeRegionFor(hart, i, owner); err != nil {
			return
		}
	}

	for i, t := range h.regions {
		if t.valid && owner != Host && t.owner == owner {
			if err = m.writeRegionFor(hart, i, owner); err != nil {
				return
			}
		}
	}

	if owner == Host {
		// full address space, NAPOT
		if err = csr.WritePMP(last, encodeNAPOT(0, 1<<55), true, true, true, platform.PMPNAPOT, false); err != nil {
			return
		}
	}

	h.active = owner

	return
}

// writeRegion programs one tracked slot for the hart's current owner.
func (m *Manager) writeRegion(hart, i int) error {
	return m.writeRegionFor(hart, i, m.harts[hart].active)
}

func (m *Manager) writeRegionFor(hart, i int, owner Owner) error {
	h := m.harts[hart]
	t := h.regions[i]
	csr := m.p.PMP(hart)

	if !t.valid {
		return csr.WritePMP(firstSlot+i, 0, false, false, false, platform.PMPOff, false)
	}

	addr := encodeNAPOT(t.region.Start, t.region.Size)

	if owner != Host && t.owner == owner {
		return csr.WritePMP(firstSlot+i, addr, t.perm.R, t.perm.W, t.perm.X, platform.PMPNAPOT, false)
	}

	return csr.WritePMP(firstSlot+i, addr, false, false, false, platform.PMPNAPOT, false)
}

// encodeNAPOT packs a naturally aligned power-of-two region into the pmpaddr
// register format.
func encodeNAPOT(base, size uint64) uint64 {
	return (base >> 2) | (size/8 - 1)
}
