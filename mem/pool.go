// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"
)

const maxOrder = 40

var (
	// ErrNoMemory is returned when no free block satisfies a request.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrAlignment is returned for spans or sizes that cannot satisfy
	// NAPOT constraints.
	ErrAlignment = errors.New("unsatisfiable alignment")

	// ErrOverlap is returned when a span collides with one already owned
	// by the pool.
	ErrOverlap = errors.New("overlapping span")

	// ErrNotOwned is returned when freeing a region the pool did not
	// hand out.
	ErrNotOwned = errors.New("region not owned by pool")
)

// Pool is the enclave physical memory allocator. It carves its spans into
// power-of-two blocks (buddy discipline) so that every region it returns can
// be covered by one PMP entry. All operations are serialized by an internal
// lock; the pool never touches isolation hardware itself.
type Pool struct {
	mu sync.Mutex

	spans   []Region
	free    [maxOrder][]uint64
	alloc   map[uint64]uint64 // base -> size
	retired []Region

	total uint64
	avail uint64
}

// NewPool returns an empty pool. Spans are added with Init and Extend.
func NewPool() *Pool {
	return &Pool{
		alloc: make(map[uint64]uint64),
	}
}

// Init establishes the initial free span.
func (p *Pool) Init(base, size uint64) error {
	return p.Extend(base, size)
}

// Extend grows the pool with an additional span. The span is split into
// maximal naturally aligned power-of-two blocks.
func (p *Pool) Extend(base, size uint64) error {
	if size == 0 || base%GranuleSize != 0 || size%GranuleSize != 0 {
		return ErrAlignment
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	span := Region{Start: base, Size: size}

	for _, s := range p.spans {
		if s.Overlaps(span) {
			return ErrOverlap
		}
	}

	p.spans = append(p.spans, span)
	p.total += size
	p.avail += size

	for base < span.End() {
		tz := bits.TrailingZeros64(base)

		if tz >= maxOrder+GranuleShift {
			tz = maxOrder + GranuleShift - 1
		}

		blk := uint64(1) << uint(tz)

		for base+blk > span.End() {
			blk >>= 1
		}

		p.push(order(blk), base)
		base += blk
	}

	return nil
}

// Alloc returns a free region of at least size bytes, rounded up to the next
// power of two and naturally aligned.
func (p *Pool) Alloc(size uint64) (r Region, err error) {
	if size == 0 {
		return Region{}, ErrAlignment
	}

	blk := RoundSize(size)

	p.mu.Lock()
	defer p.mu.Unlock()

	o := order(blk)

	if o >= maxOrder {
		return Region{}, ErrNoMemory
	}

	i := o
	for i < maxOrder && len(p.free[i]) == 0 {
		i += 1
	}

	if i == maxOrder {
		return Region{}, ErrNoMemory
	}

	base := p.pop(i)

	// split down to the requested order, freeing the upper buddies
	for i > o {
		i -= 1
		p.push(i, base+(uint64(1)<<uint(i+GranuleShift)))
	}

	r = Region{Start: base, Size: blk}
	p.alloc[base] = blk
	p.avail -= blk

	return
}

// Free returns a region previously handed out by Alloc, merging it with its
// free buddy blocks.
func (p *Pool) Free(r Region) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if size, ok := p.alloc[r.Start]; !ok || size != r.Size {
		return ErrNotOwned
	}

	delete(p.alloc, r.Start)
	p.avail += r.Size

	base, o := r.Start, order(r.Size)

	for o < maxOrder-1 {
		buddy := base ^ (uint64(1) << uint(o+GranuleShift))

		if !p.remove(o, buddy) {
			break
		}

		if buddy < base {
			base = buddy
		}

		o += 1
	}

	p.push(o, base)

	return nil
}

// Retire permanently removes a region from circulation. Used when a revoke
// or reservation broadcast could not be confirmed on every hart: the region
// must never be handed out again, whether it was allocated or still sitting
// on the free lists.
func (p *Pool) Retire(r Region) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if size, ok := p.alloc[r.Start]; ok && size == r.Size {
		delete(p.alloc, r.Start)
	}

	for o := range p.free {
		blk := uint64(1) << uint(o+GranuleShift)
		kept := p.free[o][:0]

		for _, base := range p.free[o] {
			if (Region{Start: base, Size: blk}).Overlaps(r) {
				p.avail -= blk
				continue
			}

			kept = append(kept, base)
		}

		p.free[o] = kept
	}

	p.retired = append(p.retired, r)
}

// Owns reports whether the region is currently allocated from the pool.
func (p *Pool) Owns(r Region) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	size, ok := p.alloc[r.Start]

	return ok && size == r.Size
}

// Stats returns total, available and retired byte counts.
func (p *Pool) Stats() (total, avail, retired uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.retired {
		retired += r.Size
	}

	return p.total, p.avail, retired
}

func (p *Pool) String() string {
	total, avail, retired := p.Stats()
	return fmt.Sprintf("pool total:%d avail:%d retired:%d", total, avail, retired)
}

func order(size uint64) int {
	return bits.TrailingZeros64(size) - GranuleShift
}

func (p *Pool) push(o int, base uint64) {
	p.free[o] = append(p.free[o], base)
}

func (p *Pool) pop(o int) (base uint64) {
	// lowest address first, keeps allocation patterns stable
	sort.Slice(p.free[o], func(i, j int) bool { return p.free[o][i] < p.free[o][j] })

	base = p.free[o][0]
	p.free[o] = p.free[o][1:]

	return
}

func (p *Pool) remove(o int, base uint64) bool {
	for i, b := range p.free[o] {
		if b == base {
			p.free[o] = append(p.free[o][:i], p.free[o][i+1:]...)
			return true
		}
	}

	return false
}
