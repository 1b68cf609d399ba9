// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sbi

// Base extension identifier and function identifiers.
const (
	ExtBase = 0x10

	fnGetSpecVersion = 0
	fnGetImplID      = 1
	fnGetImplVersion = 2
	fnProbeExtension = 3
	fnGetMvendorID   = 4
	fnGetMarchID     = 5
	fnGetMimpID      = 6
)

const (
	// SBI v1.0
	specVersion = 0x01000000

	implID      = 0x53504d
	implVersion = 0x00010000
)

// Base implements the SBI base extension: version, implementation and
// extension probing information.
type Base struct {
	d *Dispatcher
}

// NewBase returns the base extension backed by the dispatcher's registered
// extension table.
func NewBase(d *Dispatcher) *Base {
	return &Base{d: d}
}

// Range returns the base extension identifier.
func (b *Base) Range() (start, end uint64) {
	return ExtBase, ExtBase
}

// Probe reports the base extension as available.
func (b *Base) Probe() uint64 {
	return 1
}

// Handle executes a base extension call.
func (b *Base) Handle(c *Call) (value uint64, status int64) {
	switch c.FID {
	case fnGetSpecVersion:
		return specVersion, Success
	case fnGetImplID:
		return implID, Success
	case fnGetImplVersion:
		return implVersion, Success
	case fnProbeExtension:
		if e := b.d.Find(c.Args[0]); e != nil {
			return e.Probe(), Success
		}
		return 0, Success
	case fnGetMvendorID, fnGetMarchID, fnGetMimpID:
		return 0, Success
	default:
		return 0, ErrNotSupported
	}
}
