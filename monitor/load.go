// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !sifive_u
// +build !sifive_u

package monitor

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/rvsec/spmon/mem"
)

// loadPayload copies the PT_LOAD segments of an ELF payload into the enclave
// region through the platform memory window and returns the entry point.
// Segments reaching outside the region are rejected before anything is
// written.
func (m *Monitor) loadPayload(r mem.Region, payload []byte) (entry uint64, err error) {
	f, err := elf.NewFile(bytes.NewReader(payload))

	if err != nil {
		return
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		// Memsz is attacker controlled, compare without address sums
		// that could wrap.
		if prog.Memsz > r.Size || prog.Paddr < r.Start || prog.Paddr > r.End()-prog.Memsz {
			return 0, fmt.Errorf("segment %#x+%#x outside enclave region %v", prog.Paddr, prog.Memsz, r)
		}

		if prog.Filesz > prog.Memsz {
			return 0, fmt.Errorf("segment %#x file size %#x exceeds memory size %#x", prog.Paddr, prog.Filesz, prog.Memsz)
		}
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		buf := make([]byte, prog.Memsz)

		// zero-fill only (bss) segments carry no file data
		if prog.Filesz > 0 {
			if _, err = prog.ReadAt(buf[:prog.Filesz], 0); err != nil {
				return 0, fmt.Errorf("could not read segment at %#x, %v", prog.Paddr, err)
			}
		}

		if err = m.Platform.Mem().Write(prog.Paddr, buf); err != nil {
			return
		}
	}

	return f.Entry, nil
}
