// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"strings"
)

// StatusCommand lists the machines matching a set of predicates.
type StatusCommand struct {
	Meta
}

func (c *StatusCommand) Help() string {
	helpText := `
Usage: qmanager status [options] <predicate>...

  Show the machines matching the given predicates with their current
  load. Each predicate is a single "COLUMN OP VALUE" argument; with no
  predicates every machine is shown.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *StatusCommand) Synopsis() string {
	return "Show machine status"
}

func (c *StatusCommand) Run(args []string) int {
	fs := c.flagSet("status")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	lines, err := client.Status(fs.Args())
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	for _, line := range lines {
		c.Ui.Output(line)
	}
	return 0
}
