// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"flag"
	"strings"
)

// machineFlags registers a string flag per machine property and
// returns the value map. Only flags the user actually set end up in
// the request, so updates touch nothing else.
func machineFlags(fs *flag.FlagSet) map[string]*string {
	props := map[string]*string{}
	for _, f := range []struct{ name, usage string }{
		{"domain", "DNS domain of the machine"},
		{"primarypool", "Primary build pool"},
		{"pools", "Comma-separated build pools"},
		{"arch", "Machine architecture, e.g. amd64"},
		{"osversion", "OS major version"},
		{"numcpus", "Number of CPUs"},
		{"maxjobs", "Concurrent job limit"},
		{"haszfs", "1 if the machine has ZFS, else 0"},
		{"acl", "Comma-separated ACL names, evaluated in order"},
		{"online", "1 to accept jobs, else 0"},
	} {
		props[f.name] = fs.String(f.name, "", f.usage)
	}
	return props
}

// setProps collects the flags the user set into request properties.
func setProps(fs *flag.FlagSet, name string, props map[string]*string) map[string]string {
	out := map[string]string{"name": name}
	fs.Visit(func(f *flag.Flag) {
		if p, ok := props[f.Name]; ok {
			out[f.Name] = *p
		}
	})
	return out
}

const machineOptionsUsage = `
Machine Properties:

  -domain       DNS domain of the machine
  -primarypool  Primary build pool
  -pools        Comma-separated build pools
  -arch         Machine architecture, e.g. amd64
  -osversion    OS major version
  -numcpus      Number of CPUs
  -maxjobs      Concurrent job limit
  -haszfs       1 if the machine has ZFS, else 0
  -acl          Comma-separated ACL names, evaluated in order
  -online       1 to accept jobs, else 0
`

// MachineAddCommand creates a machine in the catalog.
type MachineAddCommand struct {
	Meta
}

func (c *MachineAddCommand) Help() string {
	helpText := `
Usage: qmanager machine add [options] <name>

  Add a machine to the catalog. Every property is required.
` + machineOptionsUsage + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *MachineAddCommand) Synopsis() string {
	return "Add a machine to the catalog"
}

func (c *MachineAddCommand) Run(args []string) int {
	fs := c.flagSet("machine add")
	props := machineFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Ui.Error("exactly one machine name is required")
		return 1
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := client.MachineAdd(setProps(fs, fs.Arg(0), props)); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	return 0
}

// MachineUpdateCommand changes properties of a machine.
type MachineUpdateCommand struct {
	Meta
}

func (c *MachineUpdateCommand) Help() string {
	helpText := `
Usage: qmanager machine update [options] <name>

  Update properties of a machine. Only the properties given on the
  command line change; blocked jobs are re-examined afterwards.
` + machineOptionsUsage + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *MachineUpdateCommand) Synopsis() string {
	return "Update a machine in the catalog"
}

func (c *MachineUpdateCommand) Run(args []string) int {
	fs := c.flagSet("machine update")
	props := machineFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Ui.Error("exactly one machine name is required")
		return 1
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := client.MachineUpdate(setProps(fs, fs.Arg(0), props)); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	return 0
}

// MachineDeleteCommand removes a machine.
type MachineDeleteCommand struct {
	Meta
}

func (c *MachineDeleteCommand) Help() string {
	helpText := `
Usage: qmanager machine delete [options] <name>

  Remove a machine from the catalog. Fails while the machine has
  running or blocked jobs.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *MachineDeleteCommand) Synopsis() string {
	return "Remove a machine from the catalog"
}

func (c *MachineDeleteCommand) Run(args []string) int {
	fs := c.flagSet("machine delete")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Ui.Error("exactly one machine name is required")
		return 1
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := client.MachineDelete(fs.Arg(0)); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	return 0
}
