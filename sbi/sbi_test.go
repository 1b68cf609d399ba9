// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sbi

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvsec/spmon/ipi"
	"github.com/rvsec/spmon/mem"
	"github.com/rvsec/spmon/monitor"
	"github.com/rvsec/spmon/platform/sim"
)

func testDispatcher(t *testing.T) (*sim.Platform, *monitor.Monitor, *Dispatcher) {
	p := sim.New(2, 16, mem.MonitorStart, mem.PoolStart+mem.PoolSize-mem.MonitorStart)
	m := monitor.New(p, time.Second)

	for h := 0; h < 2; h++ {
		require.NoError(t, m.InitHart(h))
	}

	d := NewDispatcher()
	d.Register(NewBase(d))
	d.Register(NewEnclaveExt(m))

	return p, m, d
}

func ecall(d *Dispatcher, frame *monitor.ExecCtx, ext, fid uint64, args ...uint64) {
	frame.X[monitor.RegA7] = ext
	frame.X[monitor.RegA6] = fid

	for i := range args {
		frame.X[monitor.RegA0+i] = args[i]
	}

	d.Handle(0, frame)
}

func TestUnknownExtension(t *testing.T) {
	_, m, d := testDispatcher(t)

	frame := &monitor.ExecCtx{PC: mem.HostStart}
	frame.X[5] = 0xabcd

	ecall(d, frame, 0xdead, 0)

	assert.Equal(t, int64(ErrNotSupported), int64(frame.A0()))
	assert.Equal(t, uint64(mem.HostStart+4), frame.PC)

	// no side effect beyond the return pair
	assert.Equal(t, uint64(0xabcd), frame.X[5])
	assert.Empty(t, m.Enclaves())
}

func TestUnknownFunction(t *testing.T) {
	_, m, d := testDispatcher(t)

	frame := &monitor.ExecCtx{PC: mem.HostStart}

	ecall(d, frame, ExtEnclave, 99)

	assert.Equal(t, int64(ErrNotSupported), int64(frame.A0()))
	assert.Empty(t, m.Enclaves())

	total, _, _ := m.Pool.Stats()
	assert.Zero(t, total)
}

func TestBaseExtension(t *testing.T) {
	_, _, d := testDispatcher(t)

	frame := &monitor.ExecCtx{}

	ecall(d, frame, ExtBase, fnGetSpecVersion)
	assert.Equal(t, int64(Success), int64(frame.A0()))
	assert.Equal(t, uint64(specVersion), frame.A1())

	ecall(d, frame, ExtBase, fnGetImplID)
	assert.Equal(t, uint64(implID), frame.A1())

	ecall(d, frame, ExtBase, fnProbeExtension, ExtEnclave)
	assert.Equal(t, int64(Success), int64(frame.A0()))
	assert.Equal(t, uint64(1), frame.A1())

	ecall(d, frame, ExtBase, fnProbeExtension, 0xdead)
	assert.Equal(t, int64(Success), int64(frame.A0()))
	assert.Zero(t, frame.A1())

	ecall(d, frame, ExtBase, 99)
	assert.Equal(t, int64(ErrNotSupported), int64(frame.A0()))
}

func TestCreateBadPointer(t *testing.T) {
	_, _, d := testDispatcher(t)

	frame := &monitor.ExecCtx{}

	// parameter block pointer outside untrusted OS memory
	ecall(d, frame, ExtEnclave, FnCreate, mem.PoolStart)
	assert.Equal(t, int64(ErrInvalidAddr), int64(frame.A0()))

	ecall(d, frame, ExtEnclave, FnCreate, mem.MonitorStart)
	assert.Equal(t, int64(ErrInvalidAddr), int64(frame.A0()))

	// wrap-around
	ecall(d, frame, ExtEnclave, FnCreate, ^uint64(0)-8)
	assert.Equal(t, int64(ErrInvalidAddr), int64(frame.A0()))
}

func TestRunErrorStatus(t *testing.T) {
	_, _, d := testDispatcher(t)

	frame := &monitor.ExecCtx{PC: mem.HostStart}
	want := *frame

	ecall(d, frame, ExtEnclave, FnRun, 42)

	assert.Equal(t, int64(ErrInvalidParam), int64(frame.A0()))

	// no context switch took place
	assert.Equal(t, want.PC+4, frame.PC)
}

func TestExitOutsideEnclave(t *testing.T) {
	_, _, d := testDispatcher(t)

	frame := &monitor.ExecCtx{PC: mem.HostStart}

	ecall(d, frame, ExtEnclave, FnExit, 0)

	assert.Equal(t, int64(ErrDenied), int64(frame.A0()))
}

func TestEnclaveRoundTrip(t *testing.T) {
	p, m, d := testDispatcher(t)

	frame := &monitor.ExecCtx{PC: mem.HostStart + 0x100}

	ecall(d, frame, ExtEnclave, FnMemInit, mem.PoolStart, uint64(0x100000))
	require.Equal(t, int64(Success), int64(frame.A0()))

	// double init collides with the established span
	ecall(d, frame, ExtEnclave, FnMemInit, mem.PoolStart, uint64(0x100000))
	assert.Equal(t, int64(ErrInvalidParam), int64(frame.A0()))

	ecall(d, frame, ExtEnclave, FnMemAlloc, uint64(0x4000))
	require.Equal(t, int64(Success), int64(frame.A0()))

	base := frame.A1()

	params := make([]byte, paramBlockSize)
	binary.LittleEndian.PutUint64(params[0:], base)
	binary.LittleEndian.PutUint64(params[8:], 0x4000)
	binary.LittleEndian.PutUint64(params[16:], base)
	binary.LittleEndian.PutUint64(params[24:], flagOneShot)

	require.NoError(t, p.Mem().Write(mem.HostStart+0x1000, params))

	ecall(d, frame, ExtEnclave, FnCreate, mem.HostStart+0x1000)
	require.Equal(t, int64(Success), int64(frame.A0()))

	id := frame.A1()
	host := *frame

	ecall(d, frame, ExtEnclave, FnRun, id)

	// the frame now holds the enclave context
	assert.Equal(t, base, frame.PC)
	assert.Equal(t, id, frame.A0())
	require.NotNil(t, m.Running(0))

	ecall(d, frame, ExtEnclave, FnExit, 77)

	// the host resumes past its run ecall with the return value in a0
	assert.Equal(t, host.PC+4, frame.PC)
	assert.Equal(t, uint64(77), frame.A0())
	assert.Nil(t, m.Running(0))

	// one-shot: the enclave is gone
	ecall(d, frame, ExtEnclave, FnRun, id)
	assert.Equal(t, int64(ErrInvalidParam), int64(frame.A0()))
}

func TestConsolePutchar(t *testing.T) {
	_, m, d := testDispatcher(t)

	var host, enclave []byte

	x := NewConsoleExt(m)
	x.Output = func(c byte, fromEnclave bool) {
		if fromEnclave {
			enclave = append(enclave, c)
		} else {
			host = append(host, c)
		}
	}

	d.Register(x)

	frame := &monitor.ExecCtx{PC: mem.HostStart + 0x100}

	ecall(d, frame, ExtPutchar, 0, 'h')
	require.Equal(t, int64(Success), int64(frame.A0()))

	// getchar is not served
	ecall(d, frame, ExtGetchar, 0)
	assert.Equal(t, int64(ErrNotSupported), int64(frame.A0()))

	ecall(d, frame, ExtEnclave, FnMemInit, mem.PoolStart, uint64(0x100000))
	require.Equal(t, int64(Success), int64(frame.A0()))

	r, err := m.AllocEnclaveMem(0x4000)
	require.NoError(t, err)

	id, err := m.Create(monitor.Params{Region: r, Entry: r.Start})
	require.NoError(t, err)

	ecall(d, frame, ExtEnclave, FnRun, uint64(id))
	require.Equal(t, r.Start, frame.PC)

	// output from a hart holding an enclave context is attributed to it
	ecall(d, frame, ExtPutchar, 0, 'e')

	ecall(d, frame, ExtEnclave, FnExit, 0)

	assert.Equal(t, []byte("h"), host)
	assert.Equal(t, []byte("e"), enclave)
}

func TestErrStatus(t *testing.T) {
	assert.Equal(t, int64(Success), errStatus(nil))
	assert.Equal(t, int64(ErrInvalidParam), errStatus(monitor.ErrInvalidParams))
	assert.Equal(t, int64(ErrInvalidParam), errStatus(monitor.ErrUnknownEnclave))
	assert.Equal(t, int64(ErrInvalidParam), errStatus(mem.ErrAlignment))
	assert.Equal(t, int64(ErrInvalidParam), errStatus(mem.ErrOverlap))
	assert.Equal(t, int64(ErrDenied), errStatus(monitor.ErrInvalidState))
	assert.Equal(t, int64(ErrFailed), errStatus(mem.ErrNoMemory))
	assert.Equal(t, int64(ErrFailed), errStatus(ipi.ErrTimeout))
	assert.Equal(t, int64(ErrFailed), errStatus(errors.New("anything else")))
}
