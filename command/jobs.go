// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"strings"
)

// JobsCommand lists the registered jobs.
type JobsCommand struct {
	Meta
}

func (c *JobsCommand) Help() string {
	helpText := `
Usage: qmanager jobs [options]

  List every registered job: id, name, type, priority, owner uid,
  state, start time, and machines.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *JobsCommand) Synopsis() string {
	return "List registered jobs"
}

func (c *JobsCommand) Run(args []string) int {
	fs := c.flagSet("jobs")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	lines, err := client.Jobs()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	for _, line := range lines {
		c.Ui.Output(line)
	}
	return 0
}
