// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/freebsd/qmanager/command"
	"github.com/freebsd/qmanager/version"
)

func main() {
	os.Exit(Run(os.Args[1:]))
}

// Run executes the named subcommand and returns the process exit code.
func Run(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("qmanager", version.GetVersion().FullVersionNumber(true))
	c.Args = args
	c.Commands = command.Commands(&command.Meta{Ui: ui})

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return exitCode
}
