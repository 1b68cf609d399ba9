// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sbi implements the ecall dispatch surface of the security monitor:
// the single entry point reachable from lower privilege levels. It validates
// extension and function identifiers, routes recognized calls and writes the
// return pair; it performs no isolation logic of its own.
package sbi

import (
	"sync"

	"github.com/rvsec/spmon/monitor"
)

// SBI status codes.
const (
	Success         = 0
	ErrFailed       = -1
	ErrNotSupported = -2
	ErrInvalidParam = -3
	ErrDenied       = -4
	ErrInvalidAddr  = -5
	ErrAlreadyAvail = -6
)

// Call is one privilege-crossing request: identifiers, argument registers
// and the trap frame of the calling hart.
type Call struct {
	// Hart is the calling hart.
	Hart int

	// ExtID and FID identify the requested function.
	ExtID uint64
	FID   uint64

	// Args holds argument registers a0-a5.
	Args [6]uint64

	// Frame is the caller's trap frame. Handlers triggering a context
	// switch rewrite it and mark the call switched.
	Frame *monitor.ExecCtx

	switched bool
}

// Switched marks the call as completed by context switch: the dispatcher
// must not overwrite the (now foreign) return registers.
func (c *Call) Switched() {
	c.switched = true
}

// Extension handles one SBI extension identifier range.
type Extension interface {
	// Range returns the extension identifier range, inclusive.
	Range() (start, end uint64)

	// Probe returns the value reported for this extension by the base
	// extension probe function.
	Probe() uint64

	// Handle executes one call, returning the value register and status.
	Handle(c *Call) (value uint64, status int64)
}

// Dispatcher is the registered-extension table.
type Dispatcher struct {
	mu  sync.RWMutex
	ext []Extension
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds an extension. Ranges must not overlap; later registrations
// of an overlapping range are ignored in favor of the earlier one.
func (d *Dispatcher) Register(e Extension) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ext = append(d.ext, e)
}

// Find returns the extension owning an identifier.
func (d *Dispatcher) Find(extid uint64) Extension {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.ext {
		if start, end := e.Range(); extid >= start && extid <= end {
			return e
		}
	}

	return nil
}

// Handle dispatches the ecall described by the frame of the calling hart.
// The frame's program counter is advanced past the ecall instruction first,
// so a context saved by a run handler resumes after the call. Unknown
// extension or function identifiers fail with "not supported" and produce no
// side effect.
func (d *Dispatcher) Handle(hart int, frame *monitor.ExecCtx) {
	frame.PC += 4

	call := &Call{
		Hart:  hart,
		ExtID: frame.A7(),
		FID:   frame.A6(),
		Frame: frame,
	}

	for i := 0; i < len(call.Args); i++ {
		call.Args[i] = frame.Arg(i)
	}

	e := d.Find(call.ExtID)

	if e == nil {
		frame.SetRet(ErrNotSupported, 0)
		return
	}

	value, status := e.Handle(call)

	if call.switched {
		return
	}

	frame.SetRet(status, value)
}
