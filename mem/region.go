// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"fmt"
	"math/bits"
)

// Region represents a physically contiguous span, power-of-two sized and
// naturally aligned so that it maps to a single PMP NAPOT entry.
type Region struct {
	Start uint64
	Size  uint64
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Start + r.Size
}

// Contains returns whether addr falls inside the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End()
}

// Overlaps returns whether the two regions share any address.
func (r Region) Overlaps(o Region) bool {
	return r.Start < o.End() && o.Start < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%#.8x-%#.8x", r.Start, r.End())
}

// Aligned returns whether the region satisfies NAPOT constraints.
func Aligned(base, size uint64) bool {
	if size < GranuleSize || size&(size-1) != 0 {
		return false
	}

	return base%size == 0
}

// RoundSize returns the NAPOT block size for a request of n bytes, the next
// power of two no smaller than the granule.
func RoundSize(n uint64) uint64 {
	if n <= GranuleSize {
		return GranuleSize
	}

	if n&(n-1) == 0 {
		return n
	}

	return 1 << bits.Len64(n)
}
