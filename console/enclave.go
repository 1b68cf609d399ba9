// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package console

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/rvsec/spmon/util"
)

func init() {
	Add(Cmd{
		Name: "enclaves",
		Help: "list enclave table",
		Fn:   enclavesCmd,
	})

	Add(Cmd{
		Name:    "destroy",
		Args:    1,
		Pattern: regexp.MustCompile(`^destroy (\d+)$`),
		Syntax:  "<id>",
		Help:    "tear down an enclave",
		Fn:      destroyCmd,
	})

	Add(Cmd{
		Name: "measure",
		Help: "dump measurement log",
		Fn:   measureCmd,
	})

	Add(Cmd{
		Name:    "sym",
		Args:    2,
		Pattern: regexp.MustCompile(`^sym (\d+) ([[:xdigit:]]+)$`),
		Syntax:  "<id> <hex pc>",
		Help:    "symbolicate payload program counter",
		Fn:      symCmd,
	})
}

func enclavesCmd(_ *term.Terminal, _ []string) (res string, err error) {
	enclaves := Monitor.Enclaves()

	sort.Slice(enclaves, func(i, j int) bool { return enclaves[i].ID < enclaves[j].ID })

	var b strings.Builder

	for _, e := range enclaves {
		fmt.Fprintf(&b, "%v\n", e)
	}

	if b.Len() == 0 {
		return "no enclaves", nil
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func destroyCmd(_ *term.Terminal, arg []string) (res string, err error) {
	id, err := strconv.Atoi(arg[0])

	if err != nil {
		return "", fmt.Errorf("invalid id, %v", err)
	}

	// administrative teardown issues from hart 0
	if err = Monitor.Destroy(0, id); err != nil {
		return
	}

	return fmt.Sprintf("destroyed enclave %d", id), nil
}

func symCmd(_ *term.Terminal, arg []string) (res string, err error) {
	id, err := strconv.Atoi(arg[0])

	if err != nil {
		return "", fmt.Errorf("invalid id, %v", err)
	}

	pc, err := strconv.ParseUint(arg[1], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid pc, %v", err)
	}

	for _, e := range Monitor.Enclaves() {
		if e.ID != id {
			continue
		}

		if len(e.Payload()) == 0 {
			return "", fmt.Errorf("enclave %d has no payload image", id)
		}

		return util.PCToLine(e.Payload(), pc)
	}

	return "", fmt.Errorf("unknown enclave %d", id)
}

func measureCmd(_ *term.Terminal, _ []string) (res string, err error) {
	res = strings.TrimRight(Monitor.Log.String(), "\n")

	if res == "" {
		res = "empty measurement log"
	}

	return
}
