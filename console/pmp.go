// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package console

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/term"
)

func init() {
	Add(Cmd{
		Name:    "pmp",
		Args:    2,
		Pattern: regexp.MustCompile(`^pmp (\d+) (\d+)$`),
		Syntax:  "<hart> <slot>",
		Help:    "read PMP entry",
		Fn:      pmpReadCmd,
	})

	Add(Cmd{
		Name:    "active",
		Args:    1,
		Pattern: regexp.MustCompile(`^active (\d+)$`),
		Syntax:  "<hart>",
		Help:    "show hart isolation state",
		Fn:      activeCmd,
	})

	Add(Cmd{
		Name:    "halt",
		Args:    1,
		Pattern: regexp.MustCompile(`^halt (\d+)$`),
		Syntax:  "<hart>",
		Help:    "park a hart (irreversible)",
		Fn:      haltCmd,
	})
}

func pmpReadCmd(_ *term.Terminal, arg []string) (res string, err error) {
	hart, err := strconv.Atoi(arg[0])

	if err != nil {
		return "", fmt.Errorf("invalid hart, %v", err)
	}

	slot, err := strconv.Atoi(arg[1])

	if err != nil {
		return "", fmt.Errorf("invalid slot, %v", err)
	}

	if hart < 0 || hart >= Monitor.Platform.Harts() {
		return "", fmt.Errorf("invalid hart %d", hart)
	}

	addr, r, w, x, a, l, err := Monitor.Platform.PMP(hart).ReadPMP(slot)

	if err != nil {
		return
	}

	return fmt.Sprintf("PMP:%.2d addr:%#.16x A:%d R:%v W:%v X:%v l:%v", slot, addr, a, r, w, x, l), nil
}

func haltCmd(_ *term.Terminal, arg []string) (res string, err error) {
	hart, err := strconv.Atoi(arg[0])

	if err != nil {
		return "", fmt.Errorf("invalid hart, %v", err)
	}

	if hart < 0 || hart >= Monitor.Platform.Harts() {
		return "", fmt.Errorf("invalid hart %d", hart)
	}

	Monitor.Platform.HaltHart(hart, "console halt")

	return fmt.Sprintf("halted hart %d", hart), nil
}

func activeCmd(_ *term.Terminal, arg []string) (res string, err error) {
	hart, err := strconv.Atoi(arg[0])

	if err != nil {
		return "", fmt.Errorf("invalid hart, %v", err)
	}

	if hart < 0 || hart >= Monitor.Platform.Harts() {
		return "", fmt.Errorf("invalid hart %d", hart)
	}

	var b strings.Builder

	owner := Monitor.PMP.Active(hart)

	if e := Monitor.Running(hart); e != nil {
		fmt.Fprintf(&b, "hart %d active owner:%d (%s)\n", hart, owner, e.Name)
	} else {
		fmt.Fprintf(&b, "hart %d active owner:%d\n", hart, owner)
	}

	for _, s := range Monitor.PMP.Snapshot(hart) {
		fmt.Fprintf(&b, "slot %.2d region:%v owner:%d\n", s.Index, s.Region, s.Owner)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
