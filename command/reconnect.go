// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"fmt"
	"strconv"
	"strings"
)

// ReconnectCommand reattaches to a blocked job after the submitting
// process lost its connection.
type ReconnectCommand struct {
	Meta
}

func (c *ReconnectCommand) Help() string {
	helpText := `
Usage: qmanager reconnect [options] <job-id>

  Reattach to a blocked job and wait for its placement. Only works
  while the job has no other connection.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *ReconnectCommand) Synopsis() string {
	return "Reattach to a blocked job"
}

func (c *ReconnectCommand) Run(args []string) int {
	fs := c.flagSet("reconnect")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Ui.Error("exactly one job id is required")
		return 1
	}
	id, err := strconv.ParseUint(fs.Arg(0), 10, 64)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("bad job id %q", fs.Arg(0)))
		return 1
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	alloc, err := client.Reconnect(id, func(id uint64) {
		c.Ui.Warn(fmt.Sprintf("job %d still blocked, waiting for a machine", id))
	})
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	c.Ui.Output(fmt.Sprintf("%s %d", alloc.Machine, alloc.ID))
	return 0
}
