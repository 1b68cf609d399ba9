// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"fmt"
)

// RISC-V ABI register indices into ExecCtx.X.
const (
	RegRA = 1
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA3 = 13
	RegA4 = 14
	RegA5 = 15
	RegA6 = 16
	RegA7 = 17
)

// mstatus.MPP = supervisor
const mstatusMPPSupervisor = 1 << 11

// ExecCtx is the register context of one side of a host/enclave pair: the
// general purpose registers, the resume address and the mstatus mirror of
// the suspended execution. Exactly one context per hart is live in hardware
// registers, the other is held here.
type ExecCtx struct {
	// X holds the general purpose registers, x0 is hardwired to zero.
	X [32]uint64

	// PC is the resume address (mepc at trap entry).
	PC uint64

	// MStatus mirrors the privilege state the context resumes with.
	MStatus uint64
}

// A0 returns the first argument/return value register.
func (c *ExecCtx) A0() uint64 {
	return c.X[RegA0]
}

// A1 returns the second argument register.
func (c *ExecCtx) A1() uint64 {
	return c.X[RegA1]
}

// A6 returns the SBI function identifier register.
func (c *ExecCtx) A6() uint64 {
	return c.X[RegA6]
}

// A7 returns the SBI extension identifier register.
func (c *ExecCtx) A7() uint64 {
	return c.X[RegA7]
}

// Arg returns argument register a0..a5.
func (c *ExecCtx) Arg(n int) uint64 {
	return c.X[RegA0+n]
}

// SetRet writes the SBI return pair (a0 status, a1 value).
func (c *ExecCtx) SetRet(status int64, value uint64) {
	c.X[RegA0] = uint64(status)
	c.X[RegA1] = value
}

func (c *ExecCtx) Print() string {
	return fmt.Sprintf("pc:%#.8x ra:%#.8x sp:%#.8x a0:%#.8x", c.PC, c.X[RegRA], c.X[RegSP], c.A0())
}
