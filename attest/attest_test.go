// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package attest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendChaining(t *testing.T) {
	l := NewLog()

	_, ok := l.Measurement(1)
	assert.False(t, ok)

	first := l.Extend(1, "payload", []byte("aaa"))
	second := l.Extend(1, "config", []byte("bbb"))

	// each extension folds into the previous chained value
	assert.NotEqual(t, first, second)

	d, ok := l.Measurement(1)
	require.True(t, ok)
	assert.Equal(t, second, d)
}

func TestExtendOrderSensitivity(t *testing.T) {
	a := NewLog()
	a.Extend(1, "x", []byte("aaa"))
	ab := a.Extend(1, "y", []byte("bbb"))

	b := NewLog()
	b.Extend(1, "x", []byte("bbb"))
	ba := b.Extend(1, "y", []byte("aaa"))

	assert.NotEqual(t, ab, ba)
}

func TestIdentityIndependence(t *testing.T) {
	l := NewLog()

	one := l.Extend(1, "payload", []byte("same"))
	two := l.Extend(2, "payload", []byte("same"))

	// identical data, fresh chains
	assert.Equal(t, one, two)

	l.Extend(1, "more", []byte("delta"))

	d, ok := l.Measurement(2)
	require.True(t, ok)
	assert.Equal(t, two, d)
}

func TestEntries(t *testing.T) {
	l := NewLog()

	l.Extend(3, "payload", []byte("aaa"))
	l.Extend(5, "payload", []byte("bbb"))

	entries := l.Entries()
	require.Len(t, entries, 2)

	assert.Equal(t, 3, entries[0].ID)
	assert.Equal(t, 5, entries[1].ID)
	assert.NotEqual(t, entries[0].Digest, entries[1].Digest)

	assert.Contains(t, l.String(), "sha3-256:")
	assert.Contains(t, l.String(), "payload")
}
