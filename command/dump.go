// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"fmt"
	"strings"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/freebsd/qmanager/qmanager"
	"github.com/freebsd/qmanager/qmanager/state"
)

// DumpCommand prints the raw catalog contents. Mainly for debugging a
// stopped daemon; the catalog file is locked while the daemon runs.
type DumpCommand struct {
	Meta
}

func (c *DumpCommand) Help() string {
	helpText := `
Usage: qmanager dump [options]

  Print every ACL rule, machine, and job row in the catalog file. The
  daemon must not be running, the catalog is single-access.

Options:

  -config=<path>
    Path of the key/value configuration file naming the catalog.
`
	return strings.TrimSpace(helpText)
}

func (c *DumpCommand) Synopsis() string {
	return "Print the raw catalog contents"
}

func (c *DumpCommand) Run(args []string) int {
	var configPath string
	fs := c.flagSet("dump")
	fs.StringVar(&configPath, "config", "", "Path of the configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	config, err := qmanager.LoadConfig(configPath)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	store, err := state.Open(config.DatabasePath(), hclog.NewNullLogger())
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	defer store.Close()

	acls, err := store.LoadACLs()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output("acls:")
	for _, row := range acls {
		c.Ui.Output(fmt.Sprintf("  %s\tuids=%s\tgids=%s\tsense=%v",
			row.Name, strings.Join(row.UIDList, ","),
			strings.Join(row.GIDList, ","), row.Sense))
	}

	machines, err := store.LoadMachines()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output("machines:")
	for _, row := range machines {
		c.Ui.Output(fmt.Sprintf("  %s\tdomain=%s\tarch=%s\tosversion=%d\tnumcpus=%d\tmaxjobs=%d\thaszfs=%v\tonline=%v\tprimarypool=%s\tpools=%s\tacl=%s",
			row.Name, row.Domain, row.Arch, row.OSVersion, row.NumCPUs,
			row.MaxJobs, row.HasZFS, row.Online, row.PrimaryPool,
			strings.Join(row.Pools, ","), strings.Join(row.ACL, ",")))
	}

	jobs, err := store.LoadJobs()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output("jobs:")
	for _, row := range jobs {
		c.Ui.Output(fmt.Sprintf("  %d\t%s\ttype=%s\tpriority=%d\towner=%d\trunning=%v\tstart=%d\tmachines=%s",
			row.ID, row.Name, row.Type, row.Priority, row.Owner,
			row.Running, row.StartTime, strings.Join(row.Machines, ",")))
	}
	return 0
}
