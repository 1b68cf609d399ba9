// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package monitor implements the enclave lifecycle: the enclave table and
// its state machine, the memory pool operations exposed to the untrusted OS
// and the context switch across the host/enclave boundary.
//
// Locking discipline: the table lock covers id allocation, insertion,
// removal and lookup; each enclave serializes its own transitions; the pool
// has its own lock. Acquisition order is table, enclave, pool. Cross-hart
// notification is only ever issued while holding an enclave lock.
package monitor

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rvsec/spmon/attest"
	"github.com/rvsec/spmon/ipi"
	"github.com/rvsec/spmon/mem"
	"github.com/rvsec/spmon/platform"
	"github.com/rvsec/spmon/pmp"
)

var (
	// ErrUnknownEnclave is returned for an id with no table entry.
	ErrUnknownEnclave = errors.New("unknown enclave id")

	// ErrInvalidState is returned for an operation the enclave's current
	// lifecycle state does not permit.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidParams is returned for a malformed parameter block.
	ErrInvalidParams = errors.New("invalid parameters")
)

// Monitor owns the three pieces of global mutable state: the enclave table,
// the free memory pool and, through the PMP manager, the per-hart isolation
// configurations.
type Monitor struct {
	Platform platform.Platform
	Pool     *mem.Pool
	PMP      *pmp.Manager
	Notifier *ipi.Notifier
	Log      *attest.Log

	mu        sync.Mutex
	enclaves  map[int]*Enclave
	running   []*Enclave // per hart
	allocated map[uint64]mem.Region
	nextID    int
}

// New returns a Monitor for the given platform. The notification timeout
// bounds revoke broadcasts; zero selects the default.
func New(p platform.Platform, timeout time.Duration) *Monitor {
	m := &Monitor{
		Platform:  p,
		Pool:      mem.NewPool(),
		PMP:       pmp.New(p),
		Log:       attest.NewLog(),
		enclaves:  make(map[int]*Enclave),
		running:   make([]*Enclave, p.Harts()),
		allocated: make(map[uint64]mem.Region),
		nextID:    1,
	}

	m.Notifier = ipi.New(p, m.applyAction, timeout)

	return m
}

// InitHart installs the boot PMP configuration for a hart. It must run
// before the hart executes lower privilege code.
func (m *Monitor) InitHart(hart int) error {
	return m.PMP.InitHart(hart)
}

// applyAction services isolation actions delivered by the notifier on the
// receiving hart.
func (m *Monitor) applyAction(hart int, a ipi.Action) error {
	switch a.Kind {
	case ipi.Configure:
		return m.PMP.Configure(hart, a.Region, a.Owner, pmp.Perm{R: true, W: true, X: true})
	case ipi.Revoke:
		if err := m.PMP.Revoke(hart, a.Region); err != nil && err != pmp.ErrNotTracked {
			return err
		}
	}

	return nil
}

// others returns the broadcast mask selecting every hart but the caller.
func (m *Monitor) others(hart int) (targets ipi.Mask) {
	for h := 0; h < m.Platform.Harts(); h++ {
		if h != hart {
			targets = targets.Set(h)
		}
	}

	return
}

// protect reserves a span against host access on every hart: locally on the
// calling hart, by acknowledged broadcast everywhere else. The span is not
// usable until the broadcast confirms; on timeout it is permanently retired.
func (m *Monitor) protect(hart int, span mem.Region) (err error) {
	if err = m.PMP.Configure(hart, span, pmp.Reserved, pmp.Perm{}); err != nil {
		return
	}

	err = m.Notifier.Broadcast(m.others(hart), ipi.Action{
		Kind:   ipi.Configure,
		Region: span,
		Owner:  pmp.Reserved,
	})

	if err != nil {
		m.Pool.Retire(span)
		log.Printf("SM retiring span %v, %v", span, err)
	}

	return
}

// MemInit establishes the enclave memory pool. The span must be a single
// NAPOT region so it is coverable by one PMP entry per hart.
func (m *Monitor) MemInit(hart int, base, size uint64) (err error) {
	if !mem.Aligned(base, size) {
		return ErrInvalidParams
	}

	if err = m.Pool.Init(base, size); err != nil {
		return
	}

	return m.protect(hart, mem.Region{Start: base, Size: size})
}

// MemExtend grows the enclave memory pool with an additional NAPOT span.
func (m *Monitor) MemExtend(hart int, base, size uint64) (err error) {
	if !mem.Aligned(base, size) {
		return ErrInvalidParams
	}

	if err = m.Pool.Extend(base, size); err != nil {
		return
	}

	return m.protect(hart, mem.Region{Start: base, Size: size})
}

// AllocEnclaveMem carves a region out of the pool and hands its descriptor
// to the host. The backing memory is already inaccessible to the host, the
// pool spans are reserved wholesale at MemInit/MemExtend time.
func (m *Monitor) AllocEnclaveMem(size uint64) (r mem.Region, err error) {
	if r, err = m.Pool.Alloc(size); err != nil {
		return
	}

	m.mu.Lock()
	m.allocated[r.Start] = r
	m.mu.Unlock()

	return
}

// Create validates the parameter block, loads and measures the payload and
// installs the enclave in the table. Any failure leaves no trace: the region
// stays with its allocation handle, no table entry and no measurement are
// made.
func (m *Monitor) Create(p Params) (id int, err error) {
	m.mu.Lock()
	r, ok := m.allocated[p.Region.Start]
	m.mu.Unlock()

	if !ok || r != p.Region {
		return 0, ErrInvalidParams
	}

	entry := p.Entry

	if len(p.Payload) > 0 {
		if entry, err = m.loadPayload(p.Region, p.Payload); err != nil {
			return 0, fmt.Errorf("could not load payload, %v", err)
		}
	}

	if !p.Region.Contains(entry) {
		return 0, ErrInvalidParams
	}

	e := &Enclave{
		Name:    p.Name,
		State:   Created,
		Region:  p.Region,
		Entry:   entry,
		OneShot: p.OneShot,
		payload: p.Payload,
		hart:    -1,
	}

	m.mu.Lock()

	if _, ok := m.allocated[p.Region.Start]; !ok {
		// lost a race with another create for the same handle
		m.mu.Unlock()
		return 0, ErrInvalidParams
	}

	delete(m.allocated, p.Region.Start)

	e.ID = m.nextID
	m.nextID += 1
	m.enclaves[e.ID] = e

	m.mu.Unlock()

	e.Measurement = m.Log.Extend(e.ID, e.Name, p.Payload)

	log.Printf("SM created %v", e)

	return e.ID, nil
}

// lookup returns the table entry for an id.
func (m *Monitor) lookup(id int) (*Enclave, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.enclaves[id]

	if !ok {
		return nil, ErrUnknownEnclave
	}

	return e, nil
}

// Run transfers execution of the calling hart to the enclave: the host
// context in frame is saved, the enclave's PMP configuration is activated
// and its context is loaded into frame. The activation and the context load
// happen under the enclave lock with no suspension point between them.
//
// On error the frame is untouched and no context switch takes place.
func (m *Monitor) Run(hart int, frame *ExecCtx, id int) (err error) {
	e, err := m.lookup(id)

	if err != nil {
		return
	}

	// a hart holding a live enclave context must exit before running again,
	// its frame is not a host frame
	if m.Running(hart) != nil {
		return ErrInvalidState
	}

	e.Lock()
	defer e.Unlock()

	if e.State != Created && e.State != Suspended {
		return ErrInvalidState
	}

	err = m.PMP.Configure(hart, e.Region, pmp.Owner(e.ID), pmp.Perm{R: true, W: true, X: true})

	if err != nil {
		return
	}

	e.harts = e.harts.Set(hart)

	if !e.started {
		e.initCtx()
	}

	if err = m.PMP.Activate(hart, pmp.Owner(e.ID)); err != nil {
		return
	}

	e.host = *frame
	*frame = e.ctx

	e.State = Running
	e.hart = hart

	m.mu.Lock()
	m.running[hart] = e
	m.mu.Unlock()

	return
}

// Exit returns execution of the calling hart to the host. It is only
// callable while the hart holds a live enclave context: the running hart's
// enclave is implied, never named by the caller. The host context is
// restored into frame with retval in a0; a one-shot enclave is then torn
// down, otherwise it is suspended.
func (m *Monitor) Exit(hart int, frame *ExecCtx, retval uint64) (err error) {
	m.mu.Lock()
	e := m.running[hart]
	m.mu.Unlock()

	if e == nil {
		return ErrInvalidState
	}

	e.Lock()
	defer e.Unlock()

	e.ctx = *frame

	if err = m.PMP.Activate(hart, pmp.Host); err != nil {
		return
	}

	*frame = e.host
	frame.X[RegA0] = retval

	m.mu.Lock()
	m.running[hart] = nil
	m.mu.Unlock()

	e.hart = -1

	if e.OneShot {
		m.teardown(hart, e)
	} else {
		e.State = Suspended
	}

	return
}

// Destroy tears down an enclave through the administrative path. A running
// enclave cannot be destroyed.
func (m *Monitor) Destroy(hart, id int) (err error) {
	e, err := m.lookup(id)

	if err != nil {
		return
	}

	e.Lock()
	defer e.Unlock()

	if e.State == Running || e.State == Destroyed {
		return ErrInvalidState
	}

	m.teardown(hart, e)

	return nil
}

// teardown revokes the enclave's isolation entries on every hart that ever
// held one and returns the region to the pool. The region is freed only
// after the revoke broadcast is confirmed; an unconfirmed revoke permanently
// retires it instead, the fault is contained to this region.
//
// Called with the enclave lock held.
func (m *Monitor) teardown(hart int, e *Enclave) {
	if err := m.PMP.Revoke(hart, e.Region); err != nil && err != pmp.ErrNotTracked {
		log.Printf("SM revoke of %v on hart %d failed, %v", e.Region, hart, err)
	}

	targets := e.harts.Clear(hart)

	var err error

	if targets != 0 {
		err = m.Notifier.Broadcast(targets, ipi.Action{
			Kind:   ipi.Revoke,
			Region: e.Region,
		})
	}

	if err != nil {
		m.Pool.Retire(e.Region)
		log.Printf("SM retiring region %v of enclave %d, %v", e.Region, e.ID, err)
	} else if err = m.Pool.Free(e.Region); err != nil {
		log.Printf("SM could not free region %v of enclave %d, %v", e.Region, e.ID, err)
	}

	e.State = Destroyed

	m.mu.Lock()
	delete(m.enclaves, e.ID)
	m.mu.Unlock()

	log.Printf("SM destroyed enclave %d (%s)", e.ID, e.Name)
}

// Running returns the enclave currently executing on a hart, if any.
func (m *Monitor) Running(hart int) *Enclave {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running[hart]
}

// Enclaves returns a snapshot of the enclave table.
func (m *Monitor) Enclaves() (out []*Enclave) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.enclaves {
		out = append(out, e)
	}

	return
}
