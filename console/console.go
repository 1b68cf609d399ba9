// Copyright (c) The spmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package console implements the monitor debug console, a command registry
// served over the local terminal or the ssh console.
package console

import (
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/rvsec/spmon/monitor"
)

// Banner is the login welcome banner.
var Banner string

// Monitor is the security monitor instance the commands inspect.
var Monitor *monitor.Monitor

// CmdFn is a command handler.
type CmdFn func(term *term.Terminal, arg []string) (res string, err error)

// Cmd is a console command.
type Cmd struct {
	Name    string
	Args    int
	Pattern *regexp.Regexp
	Syntax  string
	Help    string
	Fn      CmdFn
}

var cmds = make(map[string]*Cmd)

// Add registers a command.
func Add(cmd Cmd) {
	cmds[cmd.Name] = &cmd
}

// Help returns the formatted command list.
func Help(term *term.Terminal) string {
	var help strings.Builder
	var names []string

	t := tabwriter.NewWriter(&help, 16, 8, 0, '\t', tabwriter.TabIndent)

	for name := range cmds {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		_, _ = fmt.Fprintf(t, "%s %s\t # %s\n", cmds[name].Name, cmds[name].Syntax, cmds[name].Help)
	}

	_ = t.Flush()

	return string(term.Escape.Cyan) + help.String() + string(term.Escape.Reset)
}

// Handle matches a single console line against the registry and runs it.
func Handle(t *term.Terminal, line string) (err error) {
	var match *Cmd
	var arg []string

	line = strings.TrimSpace(line)

	if line == "" {
		return
	}

	for _, cmd := range cmds {
		if cmd.Pattern == nil {
			if line == cmd.Name {
				match = cmd
				break
			}

			continue
		}

		if m := cmd.Pattern.FindStringSubmatch(line); len(m) == cmd.Args+1 {
			match = cmd
			arg = m[1:]
			break
		}
	}

	if match == nil {
		return errors.New("unknown command, type `help`")
	}

	res, err := match.Fn(t, arg)

	if err != nil {
		return
	}

	if res != "" {
		fmt.Fprintln(t, res)
	}

	return
}

// Serve runs the console loop on the given stream until EOF.
func Serve(rw io.ReadWriter) {
	t := term.NewTerminal(rw, "")
	t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))

	fmt.Fprintf(t, "%s\n", Banner)
	fmt.Fprintf(t, "%s\n", Help(t))

	w := log.Writer()
	log.SetOutput(io.MultiWriter(w, t))
	defer log.SetOutput(w)

	for {
		line, err := t.ReadLine()

		if err == io.EOF {
			return
		}

		if err != nil {
			log.Printf("readline error: %v", err)
			continue
		}

		if err = Handle(t, line); err == io.EOF {
			return
		} else if err != nil {
			fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}
