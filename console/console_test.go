// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package console

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"

	"github.com/rvsec/spmon/mem"
	"github.com/rvsec/spmon/monitor"
	"github.com/rvsec/spmon/platform/sim"
)

type termBuffer struct {
	bytes.Buffer
}

func (c *termBuffer) Read(p []byte) (int, error) {
	return 0, nil
}

func testConsole(t *testing.T) (*term.Terminal, *termBuffer) {
	p := sim.New(2, 16, mem.MonitorStart, mem.PoolStart+mem.PoolSize-mem.MonitorStart)
	Monitor = monitor.New(p, time.Second)

	for h := 0; h < 2; h++ {
		require.NoError(t, Monitor.InitHart(h))
	}

	require.NoError(t, Monitor.MemInit(0, mem.PoolStart, 0x100000))

	c := &termBuffer{}

	return term.NewTerminal(c, ""), c
}

type eofBuffer struct {
	bytes.Buffer
}

func (c *eofBuffer) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func TestServeRestoresLog(t *testing.T) {
	testConsole(t)

	w := log.Writer()

	Serve(&eofBuffer{})

	// the console mirror must not survive the session
	assert.Equal(t, w, log.Writer())
}

func TestHandleUnknown(t *testing.T) {
	tt, _ := testConsole(t)

	assert.Error(t, Handle(tt, "bogus"))
	assert.NoError(t, Handle(tt, ""))
}

func TestHelp(t *testing.T) {
	tt, _ := testConsole(t)

	help := Help(tt)

	assert.Contains(t, help, "enclaves")
	assert.Contains(t, help, "destroy")
	assert.Contains(t, help, "pool")
	assert.Contains(t, help, "pmp")
}

func TestPoolCmd(t *testing.T) {
	tt, out := testConsole(t)

	require.NoError(t, Handle(tt, "pool"))
	assert.Contains(t, out.String(), "pool total:")
}

func TestEnclavesCmd(t *testing.T) {
	tt, out := testConsole(t)

	require.NoError(t, Handle(tt, "enclaves"))
	assert.Contains(t, out.String(), "no enclaves")

	r, err := Monitor.AllocEnclaveMem(0x4000)
	require.NoError(t, err)

	id, err := Monitor.Create(monitor.Params{Region: r, Entry: r.Start, Name: "demo"})
	require.NoError(t, err)

	require.NoError(t, Handle(tt, "enclaves"))
	assert.Contains(t, out.String(), "demo")

	require.NoError(t, Handle(tt, fmt.Sprintf("destroy %d", id)))
	assert.Error(t, Handle(tt, fmt.Sprintf("destroy %d", id)))
}

func TestPmpCmd(t *testing.T) {
	tt, out := testConsole(t)

	require.NoError(t, Handle(tt, "pmp 0 0"))
	assert.Contains(t, out.String(), "PMP:00")

	assert.Error(t, Handle(tt, "pmp 9 0"))
}

func TestActiveCmd(t *testing.T) {
	tt, out := testConsole(t)

	require.NoError(t, Handle(tt, "active 0"))
	assert.Contains(t, out.String(), "active owner:0")

	assert.Error(t, Handle(tt, "active 9"))
}

func TestMeasureCmd(t *testing.T) {
	tt, out := testConsole(t)

	require.NoError(t, Handle(tt, "measure"))
	assert.Contains(t, out.String(), "empty measurement log")
}

func TestPeekCmd(t *testing.T) {
	tt, out := testConsole(t)

	data := []byte("spmon")
	require.NoError(t, Monitor.Platform.Mem().Write(mem.HostStart, data))

	require.NoError(t, Handle(tt, fmt.Sprintf("peek %x %d", mem.HostStart, len(data))))
	assert.Contains(t, out.String(), "spmon")

	assert.Error(t, Handle(tt, "peek zz 4"))
	assert.Error(t, Handle(tt, fmt.Sprintf("peek %x %d", mem.HostStart, maxBufferSize+1)))
}
