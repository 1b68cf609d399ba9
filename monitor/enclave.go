// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"fmt"
	"sync"

	"github.com/rvsec/spmon/attest"
	"github.com/rvsec/spmon/ipi"
	"github.com/rvsec/spmon/mem"
)

// State is an enclave lifecycle state.
type State int

const (
	// Fresh is the transient state before creation completes; it is never
	// observable through the enclave table.
	Fresh State = iota

	// Created marks an enclave that has memory and a measured payload but
	// has never run.
	Created

	// Running marks an enclave whose context is live on some hart.
	Running

	// Suspended marks an enclave that yielded and can be resumed.
	Suspended

	// Destroyed marks a torn down enclave; its id is never reused.
	Destroyed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Created:
		return "created"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Destroyed:
		return "destroyed"
	default:
		return "invalid"
	}
}

// Params is the enclave creation parameter block.
type Params struct {
	// Region is a region previously returned by AllocEnclaveMem.
	Region mem.Region

	// Entry is the enclave entry point; ignored when Payload is set, the
	// ELF entry is used instead.
	Entry uint64

	// Payload is an optional ELF image loaded into the region and
	// measured into the attestation log.
	Payload []byte

	// Name labels the enclave in the measurement log and console.
	Name string

	// OneShot selects teardown on exit instead of suspension.
	OneShot bool
}

// Enclave is one isolated execution compartment. Transitions are serialized
// by the embedded lock; the table lock in Monitor covers only insertion,
// removal and lookup.
type Enclave struct {
	sync.Mutex

	// ID is the unique enclave identity.
	ID int

	// Name labels the enclave.
	Name string

	// State is the lifecycle state, guarded by the enclave lock.
	State State

	// Region is the exclusively owned memory region.
	Region mem.Region

	// Entry is the first-run program counter.
	Entry uint64

	// OneShot selects the one-shot exit model.
	OneShot bool

	// Measurement is the chained attestation measurement.
	Measurement attest.Digest

	ctx     ExecCtx // enclave context while suspended
	host    ExecCtx // host context while the enclave runs
	started bool
	payload []byte  // retained image for trap symbolication

	hart  int      // hart currently running the enclave, -1 otherwise
	harts ipi.Mask // every hart that ever held an entry for the region
}

// Payload returns the ELF image the enclave was created with, if any.
func (e *Enclave) Payload() []byte {
	return e.payload
}

func (e *Enclave) String() string {
	return fmt.Sprintf("enclave %d (%s) %s region:%v entry:%#x", e.ID, e.Name, e.State, e.Region, e.Entry)
}

// initCtx prepares the first-run context: execution starts at the entry
// point in supervisor mode, with the stack at the top of the region and the
// enclave identity in a0.
func (e *Enclave) initCtx() {
	e.ctx = ExecCtx{
		PC:      e.Entry,
		MStatus: mstatusMPPSupervisor,
	}

	e.ctx.X[RegSP] = e.Region.End()
	e.ctx.X[RegA0] = uint64(e.ID)

	e.started = true
}
