// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sbi

import (
	"encoding/binary"

	"github.com/rvsec/spmon/ipi"
	"github.com/rvsec/spmon/mem"
	"github.com/rvsec/spmon/monitor"
	"github.com/rvsec/spmon/pmp"
)

// Enclave extension identifier and function identifiers.
const (
	ExtEnclave = 0x100100

	// host side
	FnMemInit   = 0
	FnMemExtend = 1
	FnMemAlloc  = 2
	FnCreate    = 3
	FnRun       = 4

	// enclave side
	FnExit = 5
)

// paramBlockSize is the size of the create parameter block: six 64-bit
// little-endian words (region base, region size, entry point, flags, payload
// address, payload size).
const paramBlockSize = 6 * 8

const flagOneShot = 1 << 0

// EnclaveExt exposes the monitor's enclave operations as an SBI extension.
type EnclaveExt struct {
	m *monitor.Monitor
}

// NewEnclaveExt returns the enclave extension.
func NewEnclaveExt(m *monitor.Monitor) *EnclaveExt {
	return &EnclaveExt{m: m}
}

// Range returns the enclave extension identifier.
func (x *EnclaveExt) Range() (start, end uint64) {
	return ExtEnclave, ExtEnclave
}

// Probe reports the enclave extension as available.
func (x *EnclaveExt) Probe() uint64 {
	return 1
}

// Handle routes one enclave extension call. Pointer-carrying arguments are
// bounds checked against untrusted OS memory before any dereference.
func (x *EnclaveExt) Handle(c *Call) (value uint64, status int64) {
	switch c.FID {
	case FnMemInit:
		return 0, errStatus(x.m.MemInit(c.Hart, c.Args[0], c.Args[1]))
	case FnMemExtend:
		return 0, errStatus(x.m.MemExtend(c.Hart, c.Args[0], c.Args[1]))
	case FnMemAlloc:
		r, err := x.m.AllocEnclaveMem(c.Args[0])

		if err != nil {
			return 0, errStatus(err)
		}

		return r.Start, Success
	case FnCreate:
		return x.create(c)
	case FnRun:
		if err := x.m.Run(c.Hart, c.Frame, int(c.Args[0])); err != nil {
			return 0, errStatus(err)
		}

		c.Switched()

		return 0, Success
	case FnExit:
		if err := x.m.Exit(c.Hart, c.Frame, c.Args[0]); err != nil {
			return 0, errStatus(err)
		}

		c.Switched()

		return 0, Success
	default:
		return 0, ErrNotSupported
	}
}

// create reads and validates the parameter block at args[0] from untrusted
// memory and submits it to the lifecycle manager.
func (x *EnclaveExt) create(c *Call) (value uint64, status int64) {
	buf, ok := x.hostRead(c.Args[0], paramBlockSize)

	if !ok {
		return 0, ErrInvalidAddr
	}

	var w [6]uint64

	for i := range w {
		w[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}

	params := monitor.Params{
		Region:  mem.Region{Start: w[0], Size: w[1]},
		Entry:   w[2],
		OneShot: w[3]&flagOneShot != 0,
	}

	if w[5] > 0 {
		payload, ok := x.hostRead(w[4], w[5])

		if !ok {
			return 0, ErrInvalidAddr
		}

		params.Payload = payload
	}

	id, err := x.m.Create(params)

	if err != nil {
		return 0, errStatus(err)
	}

	return uint64(id), Success
}

// hostRead copies size bytes at addr out of untrusted OS memory. Reads
// outside the host range are rejected: the monitor never dereferences a
// pointer it has not validated.
func (x *EnclaveExt) hostRead(addr, size uint64) ([]byte, bool) {
	if size == 0 || size > mem.HostSize {
		return nil, false
	}

	if addr < mem.HostStart || addr+size < addr || addr+size > mem.HostStart+mem.HostSize {
		return nil, false
	}

	buf := make([]byte, size)

	if err := x.m.Platform.Mem().Read(addr, buf); err != nil {
		return nil, false
	}

	return buf, true
}

// errStatus maps monitor errors to the SBI status codes the untrusted
// caller observes. Synchronization and invariant failures deliberately fold
// into the generic failure code.
func errStatus(err error) int64 {
	switch err {
	case nil:
		return Success
	case monitor.ErrInvalidParams, monitor.ErrUnknownEnclave, mem.ErrAlignment, mem.ErrOverlap:
		return ErrInvalidParam
	case monitor.ErrInvalidState:
		return ErrDenied
	case mem.ErrNoMemory, pmp.ErrSlots:
		return ErrFailed
	case ipi.ErrTimeout:
		return ErrFailed
	default:
		return ErrFailed
	}
}
