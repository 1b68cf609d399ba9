// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sbi

import (
	"github.com/rvsec/spmon/monitor"
	"github.com/rvsec/spmon/util"
)

// Legacy console extension identifiers.
const (
	ExtPutchar = 0x01
	ExtGetchar = 0x02
)

// ConsoleExt implements the legacy console extension. Output is attributed
// to the enclave or the host depending on what the calling hart is running,
// so the two streams can be buffered and colored apart.
type ConsoleExt struct {
	m *monitor.Monitor

	// Output receives each character with its attribution.
	Output func(c byte, enclave bool)
}

// NewConsoleExt returns the console extension, writing to standard output.
func NewConsoleExt(m *monitor.Monitor) *ConsoleExt {
	return &ConsoleExt{
		m:      m,
		Output: util.BufferedStdoutLog,
	}
}

// Range returns the legacy console extension identifiers.
func (x *ConsoleExt) Range() (start, end uint64) {
	return ExtPutchar, ExtGetchar
}

// Probe reports the console extension as available.
func (x *ConsoleExt) Probe() uint64 {
	return 1
}

// Handle executes a legacy console call. Legacy extensions carry the function
// in the extension identifier itself and return only a0.
func (x *ConsoleExt) Handle(c *Call) (value uint64, status int64) {
	switch c.ExtID {
	case ExtPutchar:
		x.Output(byte(c.Args[0]), x.m.Running(c.Hart) != nil)
		return 0, Success
	default:
		return 0, ErrNotSupported
	}
}
