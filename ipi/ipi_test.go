// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ipi

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvsec/spmon/mem"
	"github.com/rvsec/spmon/platform/sim"
)

type recorder struct {
	mu      sync.Mutex
	applied map[int][]Action
	fail    map[int]error
}

func newRecorder() *recorder {
	return &recorder{
		applied: make(map[int][]Action),
		fail:    make(map[int]error),
	}
}

func (r *recorder) apply(hart int, a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fail[hart]; err != nil {
		return err
	}

	r.applied[hart] = append(r.applied[hart], a)

	return nil
}

func (r *recorder) count(hart int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.applied[hart])
}

func TestMask(t *testing.T) {
	var m Mask

	m = m.Set(0).Set(3)

	assert.True(t, m.Has(0))
	assert.False(t, m.Has(1))
	assert.True(t, m.Has(3))

	m = m.Clear(0)

	assert.False(t, m.Has(0))
	assert.True(t, m.Has(3))
	assert.Equal(t, Bit(3), m)
}

func TestBroadcastAck(t *testing.T) {
	p := sim.New(4, 8, 0, 0x1000)
	r := newRecorder()
	n := New(p, r.apply, time.Second)

	a := Action{
		Kind:   Configure,
		Region: mem.Region{Start: 0x1000000, Size: 0x4000},
	}

	require.NoError(t, n.Broadcast(Bit(1).Set(2).Set(3), a))

	// acknowledged means applied, not merely delivered
	for hart := 1; hart <= 3; hart++ {
		assert.Equal(t, 1, r.count(hart), "hart %d", hart)
	}

	assert.Zero(t, r.count(0))
}

func TestBroadcastEmptyMask(t *testing.T) {
	p := sim.New(2, 8, 0, 0x1000)
	r := newRecorder()
	n := New(p, r.apply, time.Second)

	require.NoError(t, n.Broadcast(0, Action{Kind: Sync}))
}

func TestBroadcastApplyError(t *testing.T) {
	p := sim.New(2, 8, 0, 0x1000)
	r := newRecorder()
	r.fail[1] = errors.New("no slots")
	n := New(p, r.apply, time.Second)

	err := n.Broadcast(Bit(1), Action{Kind: Sync})

	// a reported failure is distinct from a timeout
	require.Error(t, err)
	assert.NotEqual(t, ErrTimeout, err)
}

func TestBroadcastTimeout(t *testing.T) {
	p := sim.New(3, 8, 0, 0x1000)
	r := newRecorder()
	n := New(p, r.apply, 50*time.Millisecond)

	p.Stall(2, true)

	start := time.Now()
	err := n.Broadcast(Bit(1).Set(2), Action{Kind: Sync})

	assert.Equal(t, ErrTimeout, err)
	assert.Less(t, time.Since(start), time.Second)

	// the responsive hart still applied the action
	assert.Equal(t, 1, r.count(1))
	assert.Zero(t, r.count(2))
}

func TestActionString(t *testing.T) {
	a := Action{Kind: Configure, Region: mem.Region{Start: 0x1000, Size: 0x1000}}
	assert.Contains(t, a.String(), "configure")

	a.Kind = Revoke
	assert.Contains(t, a.String(), "revoke")

	assert.Equal(t, "sync", Action{Kind: Sync}.String())
}
