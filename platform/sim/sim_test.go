// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvsec/spmon/platform"
)

func TestMemoryBounds(t *testing.T) {
	m := NewMemory(0x80000000, 0x10000)

	buf := []byte{1, 2, 3, 4}

	require.NoError(t, m.Write(0x80000000, buf))

	got := make([]byte, 4)
	require.NoError(t, m.Read(0x80000000, got))
	assert.Equal(t, buf, got)

	assert.Error(t, m.Write(0x7fffffff, buf))
	assert.Error(t, m.Read(0x8000fffd, got))
	assert.Error(t, m.Read(^uint64(0)-1, got))
}

func TestMemoryPageStraddle(t *testing.T) {
	m := NewMemory(0x80000000, 0x10000)

	buf := make([]byte, 0x2000)

	for i := range buf {
		buf[i] = byte(i)
	}

	// write crossing three pages
	require.NoError(t, m.Write(0x80000800, buf))

	got := make([]byte, len(buf))
	require.NoError(t, m.Read(0x80000800, got))
	assert.Equal(t, buf, got)
}

func TestCSRLock(t *testing.T) {
	c := NewCSRFile(4)

	require.NoError(t, c.WritePMP(0, 0x1000, false, false, false, platform.PMPNAPOT, true))
	assert.Error(t, c.WritePMP(0, 0x2000, true, true, true, platform.PMPNAPOT, false))
	assert.Error(t, c.WritePMP(4, 0, false, false, false, platform.PMPOff, false))
}

func TestCSRAccessNAPOT(t *testing.T) {
	c := NewCSRFile(4)

	// NAPOT entry covering [0x10000, 0x14000)
	addr := (uint64(0x10000) >> 2) | (0x4000/8 - 1)
	require.NoError(t, c.WritePMP(1, addr, true, false, true, platform.PMPNAPOT, false))

	assert.True(t, c.Access(0x10000, false, false))
	assert.True(t, c.Access(0x13fff, false, true))
	assert.False(t, c.Access(0x13fff, true, false))
	assert.False(t, c.Access(0x14000, false, false))
	assert.False(t, c.Access(0xffff, false, false))
}

func TestCSRPriority(t *testing.T) {
	c := NewCSRFile(4)

	// lower slot denies a subset of what a higher slot grants
	deny := (uint64(0x10000) >> 2) | (0x1000/8 - 1)
	require.NoError(t, c.WritePMP(0, deny, false, false, false, platform.PMPNAPOT, false))

	grant := (uint64(0x10000) >> 2) | (0x4000/8 - 1)
	require.NoError(t, c.WritePMP(1, grant, true, true, true, platform.PMPNAPOT, false))

	assert.False(t, c.Access(0x10000, false, false))
	assert.True(t, c.Access(0x11000, false, false))
}

func TestCSRTrace(t *testing.T) {
	c := NewCSRFile(4)

	require.NoError(t, c.WritePMP(1, 0x100, true, false, false, platform.PMPNAPOT, false))
	require.NoError(t, c.WritePMP(2, 0x200, false, false, false, platform.PMPOff, false))

	require.Len(t, c.Trace, 2)
	assert.Equal(t, 1, c.Trace[0].Slot)
	assert.Equal(t, 2, c.Trace[1].Slot)
}

func TestMailbox(t *testing.T) {
	p := New(2, 4, 0, 0x1000)

	var mu sync.Mutex
	var raised []int
	done := make(chan struct{}, 1)

	p.IPI().Register(func(hart int) {
		mu.Lock()
		raised = append(raised, hart)
		mu.Unlock()
		done <- struct{}{}
	})

	require.NoError(t, p.IPI().Raise(1))
	<-done

	mu.Lock()
	assert.Equal(t, []int{1}, raised)
	mu.Unlock()

	assert.Error(t, p.IPI().Raise(5))

	// stalled harts silently drop interrupts
	p.Stall(1, true)
	require.NoError(t, p.IPI().Raise(1))

	select {
	case <-done:
		t.Fatal("stalled hart serviced an interrupt")
	default:
	}
}

func TestHalt(t *testing.T) {
	p := New(2, 4, 0, 0x1000)

	_, ok := p.Halted(0)
	assert.False(t, ok)

	p.HaltHart(0, "test fault")
	p.HaltHart(0, "second fault")

	reason, ok := p.Halted(0)
	assert.True(t, ok)
	assert.Equal(t, "test fault", reason)

	_, ok = p.Halted(1)
	assert.False(t, ok)
}
