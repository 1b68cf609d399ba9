// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ipi propagates isolation configuration changes to remote harts.
// A broadcast is a synchronous barrier: the issuing hart blocks until every
// target has applied the action on its own PMP register file, or the bounded
// wait expires. A hart only ever modifies its own isolation hardware, remote
// changes are always requested through this package.
package ipi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rvsec/spmon/mem"
	"github.com/rvsec/spmon/platform"
	"github.com/rvsec/spmon/pmp"
)

// DefaultTimeout bounds the wait for broadcast acknowledgment. There is no
// retry: an expired wait is fatal for the memory region concerned.
const DefaultTimeout = 500 * time.Millisecond

// ErrTimeout is returned when a target hart does not confirm an action
// within the bounded wait.
var ErrTimeout = errors.New("notification timeout")

// Kind enumerates the isolation actions a broadcast can carry.
type Kind int

const (
	// Configure adds a deny-to-host entry for a region.
	Configure Kind = iota + 1

	// Revoke removes a region's entry.
	Revoke

	// Sync carries no region and acts as a barrier only.
	Sync
)

// Action is one isolation configuration change.
type Action struct {
	Kind   Kind
	Region mem.Region
	Owner  pmp.Owner
}

func (a Action) String() string {
	switch a.Kind {
	case Configure:
		return fmt.Sprintf("configure %v owner:%d", a.Region, a.Owner)
	case Revoke:
		return fmt.Sprintf("revoke %v", a.Region)
	default:
		return "sync"
	}
}

// Mask is a hart bit mask.
type Mask uint64

// Bit returns a mask selecting a single hart.
func Bit(hart int) Mask {
	return 1 << uint(hart)
}

// Has returns whether the mask selects the hart.
func (m Mask) Has(hart int) bool {
	return m&Bit(hart) != 0
}

// Set returns the mask with the hart added.
func (m Mask) Set(hart int) Mask {
	return m | Bit(hart)
}

// Clear returns the mask with the hart removed.
func (m Mask) Clear(hart int) Mask {
	return m &^ Bit(hart)
}

type request struct {
	action Action
	done   chan error
}

// Notifier implements the acknowledged broadcast.
type Notifier struct {
	p       platform.Platform
	apply   func(hart int, a Action) error
	timeout time.Duration

	mu     sync.Mutex
	queues [][]request
}

// New returns a Notifier delivering actions to apply on the receiving hart.
// The apply function runs on the target hart's interrupt path.
func New(p platform.Platform, apply func(hart int, a Action) error, timeout time.Duration) *Notifier {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	n := &Notifier{
		p:       p,
		apply:   apply,
		timeout: timeout,
		queues:  make([][]request, p.Harts()),
	}

	p.IPI().Register(n.service)

	return n
}

// service drains the pending actions for the receiving hart.
func (n *Notifier) service(hart int) {
	for {
		n.mu.Lock()

		if len(n.queues[hart]) == 0 {
			n.mu.Unlock()
			return
		}

		req := n.queues[hart][0]
		n.queues[hart] = n.queues[hart][1:]

		n.mu.Unlock()

		req.done <- n.apply(hart, req.action)
	}
}

// Broadcast delivers the action to every hart in the mask and blocks until
// all of them acknowledge, or the bounded wait expires. On ErrTimeout the
// caller must treat the affected region as unusable.
func (n *Notifier) Broadcast(targets Mask, a Action) (err error) {
	var pending []chan error

	for hart := 0; hart < n.p.Harts(); hart++ {
		if !targets.Has(hart) {
			continue
		}

		req := request{
			action: a,
			done:   make(chan error, 1),
		}

		n.mu.Lock()
		n.queues[hart] = append(n.queues[hart], req)
		n.mu.Unlock()

		if err = n.p.IPI().Raise(hart); err != nil {
			return fmt.Errorf("could not notify hart %d, %v", hart, err)
		}

		pending = append(pending, req.done)
	}

	deadline := time.After(n.timeout)

	for _, done := range pending {
		select {
		case e := <-done:
			if e != nil && err == nil {
				err = e
			}
		case <-deadline:
			return ErrTimeout
		}
	}

	return
}
