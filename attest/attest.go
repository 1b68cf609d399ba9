// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package attest keeps the append-only measurement log the monitor extends
// as enclaves are created. Each enclave identity accumulates a chained
// SHA3-256 measurement; the log itself records every extension in order, in
// the style of the kernel integrity measurement list.
package attest

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/sha3"
)

// DigestSize is the measurement digest size in bytes.
const DigestSize = 32

// Digest is a SHA3-256 digest.
type Digest [DigestSize]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Entry is one measurement event.
type Entry struct {
	// ID is the enclave identity the event belongs to.
	ID int

	// Name labels the measured object (payload, parameter block).
	Name string

	// Digest is the SHA3-256 of the measured data.
	Digest Digest
}

// Log is the append-only measurement log. Entries are never removed, an
// enclave's chained measurement survives its destruction.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	chained map[int]Digest
}

// NewLog returns an empty measurement log.
func NewLog() *Log {
	return &Log{
		chained: make(map[int]Digest),
	}
}

// Extend measures data under the given enclave identity and folds it into
// the identity's chained measurement (m' = H(m || H(data))). It returns the
// new chained value.
func (l *Log) Extend(id int, name string, data []byte) Digest {
	digest := Digest(sha3.Sum256(data))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{
		ID:     id,
		Name:   name,
		Digest: digest,
	})

	prev := l.chained[id]

	h := sha3.New256()
	h.Write(prev[:])
	h.Write(digest[:])

	var next Digest
	copy(next[:], h.Sum(nil))

	l.chained[id] = next

	return next
}

// Measurement returns the chained measurement of an enclave identity.
func (l *Log) Measurement(id int) (d Digest, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok = l.chained[id]

	return
}

// Entries returns a copy of the event log.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)

	return out
}

// String renders the log as an ascii measurement list, one event per line.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder

	for _, e := range l.entries {
		fmt.Fprintf(&b, "%d sha3-256:%s %s\n", e.ID, e.Digest, e.Name)
	}

	return b.String()
}
