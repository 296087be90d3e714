// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"fmt"
	"strings"

	"github.com/freebsd/qmanager/api"
)

// AcquireCommand registers a job; with block set it waits for a
// machine, without it it fails fast when everything is busy.
type AcquireCommand struct {
	Meta
	block bool
}

func (c *AcquireCommand) name() string {
	if c.block {
		return "acquire"
	}
	return "try"
}

func (c *AcquireCommand) Help() string {
	helpText := fmt.Sprintf(`
Usage: qmanager %s -name=<name> -type=<type> [options] <predicate>...

  Register a job against the machines matching the given predicates.
  Each predicate is a single "COLUMN OP VALUE" argument, for example
  'arch = amd64'. On success the chosen machine and the job id are
  printed; release the job with "qmanager release" when done.

Options:

  -name=<name>
    Job name.

  -type=<type>
    Job type, e.g. package or release.

  -priority=<n>
    Job priority; lower runs first. Defaults to 10.
%s`, c.name(), generalOptionsUsage)
	return strings.TrimSpace(helpText)
}

func (c *AcquireCommand) Synopsis() string {
	if c.block {
		return "Register a job, waiting for a free machine"
	}
	return "Register a job only if a machine is free now"
}

func (c *AcquireCommand) Run(args []string) int {
	var name, jobType string
	var priority int
	fs := c.flagSet(c.name())
	fs.StringVar(&name, "name", "", "Job name")
	fs.StringVar(&jobType, "type", "", "Job type")
	fs.IntVar(&priority, "priority", 10, "Job priority")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if name == "" || jobType == "" {
		c.Ui.Error("-name and -type are required")
		return 1
	}
	mdl := fs.Args()
	if len(mdl) == 0 {
		c.Ui.Error("at least one predicate is required")
		return 1
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	var alloc *api.Allocation
	if c.block {
		alloc, err = client.Acquire(name, jobType, priority, mdl, func(id uint64) {
			c.Ui.Warn(fmt.Sprintf("job %d blocked, waiting for a machine", id))
		})
	} else {
		alloc, err = client.Try(name, jobType, priority, mdl)
	}
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	c.Ui.Output(fmt.Sprintf("%s %d", alloc.Machine, alloc.ID))
	return 0
}
