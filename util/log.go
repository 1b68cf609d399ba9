// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"os"

	"golang.org/x/term"
)

var monitorOutput bytes.Buffer
var enclaveOutput bytes.Buffer

const outputLimit = 1024
const flushChr = 0x0a // \n

// BufferedStdoutLog accumulates console output per source and flushes whole
// lines, so monitor and enclave writes do not interleave.
func BufferedStdoutLog(c byte, enclave bool) {
	var buf *bytes.Buffer

	if enclave {
		buf = &enclaveOutput
	} else {
		buf = &monitorOutput
	}

	buf.WriteByte(c)

	if c == flushChr || buf.Len() > outputLimit {
		os.Stdout.Write(buf.Bytes())
		buf.Reset()
	}
}

// BufferedTermLog is BufferedStdoutLog for a remote terminal, coloring
// enclave output to tell the two sources apart.
func BufferedTermLog(c byte, enclave bool, t *term.Terminal) {
	var buf *bytes.Buffer
	var color []byte

	if enclave {
		buf = &enclaveOutput
		color = t.Escape.Red
	} else {
		buf = &monitorOutput
		color = t.Escape.Green
	}

	buf.WriteByte(c)

	if c == flushChr || buf.Len() > outputLimit {
		t.Write(color)
		t.Write(buf.Bytes())
		t.Write(t.Escape.Reset)

		buf.Reset()
	}
}
