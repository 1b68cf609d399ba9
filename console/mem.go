// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package console

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/term"
)

const maxBufferSize = 102400

func init() {
	Add(Cmd{
		Name: "pool",
		Help: "enclave memory pool stats",
		Fn:   poolCmd,
	})

	Add(Cmd{
		Name:    "peek",
		Args:    2,
		Pattern: regexp.MustCompile(`^peek ([[:xdigit:]]+) (\d+)$`),
		Syntax:  "<hex addr> <size>",
		Help:    "memory display (use with caution)",
		Fn:      peekCmd,
	})
}

func poolCmd(_ *term.Terminal, _ []string) (res string, err error) {
	return Monitor.Pool.String(), nil
}

func peekCmd(_ *term.Terminal, arg []string) (res string, err error) {
	addr, err := strconv.ParseUint(arg[0], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	size, err := strconv.ParseUint(arg[1], 10, 32)

	if err != nil {
		return "", fmt.Errorf("invalid size, %v", err)
	}

	if size > maxBufferSize {
		return "", fmt.Errorf("size argument must be <= %d", maxBufferSize)
	}

	buf := make([]byte, size)

	if err = Monitor.Platform.Mem().Read(addr, buf); err != nil {
		return
	}

	return hex.Dump(buf), nil
}
