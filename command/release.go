// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"fmt"
	"strconv"
	"strings"
)

// ReleaseCommand frees the machine slot held by a running job.
type ReleaseCommand struct {
	Meta
}

func (c *ReleaseCommand) Help() string {
	helpText := `
Usage: qmanager release [options] <job-id>

  Release a running job, freeing its slot for the next blocked job.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *ReleaseCommand) Synopsis() string {
	return "Release a running job"
}

func (c *ReleaseCommand) Run(args []string) int {
	fs := c.flagSet("release")
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
	if err := client.Release(id); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	return 0
}
