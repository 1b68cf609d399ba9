// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// spmon runs the security monitor on the simulated platform, exercises one
// enclave round trip through the ecall surface and serves the debug console
// on the local terminal (and optionally over ssh).
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime"

	"golang.org/x/term"

	"github.com/rvsec/spmon/console"
	"github.com/rvsec/spmon/mem"
	"github.com/rvsec/spmon/monitor"
	"github.com/rvsec/spmon/platform/sim"
	"github.com/rvsec/spmon/sbi"
	"github.com/rvsec/spmon/util"
)

const pmpSlots = 16

var (
	harts  int
	listen string
)

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	flag.IntVar(&harts, "harts", 4, "simulated hart count")
	flag.StringVar(&listen, "listen", "", "ssh console listen address")
}

func main() {
	flag.Parse()

	p := sim.New(harts, pmpSlots, mem.MonitorStart, mem.PoolStart+mem.PoolSize-mem.MonitorStart)
	m := monitor.New(p, 0)

	for h := 0; h < harts; h++ {
		if err := m.InitHart(h); err != nil {
			log.Fatalf("SM could not initialize hart %d, %v", h, err)
		}
	}

	d := sbi.NewDispatcher()
	d.Register(sbi.NewBase(d))
	d.Register(sbi.NewEnclaveExt(m))

	sbiConsole := sbi.NewConsoleExt(m)
	d.Register(sbiConsole)

	console.Banner = fmt.Sprintf("%s/%s (%s) • sPMP Security Monitor (M-mode)", runtime.GOOS, runtime.GOARCH, runtime.Version())
	console.Monitor = m

	if err := demo(p, d); err != nil {
		log.Fatalf("SM demo enclave failed, %v", err)
	}

	if listen != "" {
		l, err := net.Listen("tcp", listen)

		if err != nil {
			log.Fatalf("SM could not listen on %s, %v", listen, err)
		}

		ssh := &util.Console{
			Banner:  console.Banner,
			Help:    "type `help`",
			Handler: console.Handle,
		}

		if err = ssh.Start(l); err != nil {
			log.Fatalf("SM could not start ssh console, %v", err)
		}

		// mirror ecall console output to the remote terminal once attached
		sbiConsole.Output = func(c byte, enclave bool) {
			if ssh.Term != nil {
				util.BufferedTermLog(c, enclave, ssh.Term)
				return
			}

			util.BufferedStdoutLog(c, enclave)
		}
	}

	serveLocal()

	log.Printf("SM says goodbye")
}

// ecall drives the dispatcher the way the untrusted kernel's trap would.
func ecall(d *sbi.Dispatcher, frame *monitor.ExecCtx, fid uint64, args ...uint64) {
	frame.X[monitor.RegA7] = sbi.ExtEnclave
	frame.X[monitor.RegA6] = fid

	for i, a := range args {
		frame.X[monitor.RegA0+i] = a
	}

	d.Handle(0, frame)
}

// demo performs a full enclave round trip over the ecall surface: pool
// initialization, region allocation, creation, run and exit.
func demo(p *sim.Platform, d *sbi.Dispatcher) (err error) {
	frame := &monitor.ExecCtx{PC: mem.HostStart + 0x100}

	ecall(d, frame, sbi.FnMemInit, mem.PoolStart, mem.PoolSize)

	if status := int64(frame.A0()); status != sbi.Success {
		return fmt.Errorf("memory pool init returned %d", status)
	}

	ecall(d, frame, sbi.FnMemAlloc, 0x4000)

	if status := int64(frame.A0()); status != sbi.Success {
		return fmt.Errorf("enclave memory allocation returned %d", status)
	}

	base := frame.A1()

	// parameter block in untrusted memory: region, entry, flags, payload
	params := make([]byte, 6*8)
	binary.LittleEndian.PutUint64(params[0:], base)
	binary.LittleEndian.PutUint64(params[8:], 0x4000)
	binary.LittleEndian.PutUint64(params[16:], base)
	binary.LittleEndian.PutUint64(params[24:], 1) // one-shot

	if err = p.Mem().Write(mem.HostStart+0x1000, params); err != nil {
		return
	}

	ecall(d, frame, sbi.FnCreate, mem.HostStart+0x1000)

	if status := int64(frame.A0()); status != sbi.Success {
		return fmt.Errorf("enclave creation returned %d", status)
	}

	id := frame.A1()
	host := *frame

	ecall(d, frame, sbi.FnRun, id)

	if frame.PC != base {
		return fmt.Errorf("enclave context expected at %#x, pc:%#x", base, frame.PC)
	}

	log.Printf("SM entered enclave %d %s", id, frame.Print())

	// the enclave greets the console, then exits with a return value
	for _, c := range []byte("hello from the other side\n") {
		frame.X[monitor.RegA7] = sbi.ExtPutchar
		frame.X[monitor.RegA0] = uint64(c)
		d.Handle(0, frame)
	}

	ecall(d, frame, sbi.FnExit, 42)

	// the host resumes past its run ecall
	if frame.A0() != 42 || frame.PC != host.PC+4 {
		return fmt.Errorf("host resume mismatch, %s", frame.Print())
	}

	log.Printf("SM resumed host %s", frame.Print())

	return
}

type stdio struct {
	io.Reader
	io.Writer
}

// serveLocal runs the debug console on the process terminal.
func serveLocal() {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		console.Serve(&stdio{Reader: os.Stdin, Writer: os.Stdout})
		return
	}

	old, err := term.MakeRaw(fd)

	if err != nil {
		log.Fatalf("SM could not set raw terminal, %v", err)
	}
	defer term.Restore(fd, old)

	console.Serve(&stdio{Reader: os.Stdin, Writer: os.Stdout})
}
