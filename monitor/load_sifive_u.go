// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build sifive_u
// +build sifive_u

package monitor

import (
	"fmt"

	"github.com/usbarmory/armory-boot/exec"
	"github.com/usbarmory/tamago/dma"

	"github.com/rvsec/spmon/mem"
)

// loadPayload loads an ELF payload into the enclave region and returns the
// entry point. On hardware the region is mapped as a DMA reservation and the
// image is placed by the armory-boot ELF loader.
func (m *Monitor) loadPayload(r mem.Region, payload []byte) (entry uint64, err error) {
	region, err := dma.NewRegion(uint(r.Start), int(r.Size), false)

	if err != nil {
		return 0, fmt.Errorf("could not map enclave region %v, %v", r, err)
	}

	region.Reserve(int(r.Size), 0)

	image := &exec.ELFImage{
		Region: region,
		ELF:    payload,
	}

	if err = image.Load(); err != nil {
		return 0, fmt.Errorf("could not load payload, %v", err)
	}

	entry = uint64(image.Entry())

	if !r.Contains(entry) {
		return 0, fmt.Errorf("payload entry %#x outside enclave region %v", entry, r)
	}

	return
}
