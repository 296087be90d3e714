// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"flag"
	"strings"
)

// aclFlags registers a string flag per ACL property.
func aclFlags(fs *flag.FlagSet) map[string]*string {
	props := map[string]*string{}
	for _, f := range []struct{ name, usage string }{
		{"uidlist", "Comma-separated users the rule applies to; empty matches all"},
		{"gidlist", "Comma-separated groups the rule applies to; empty matches all"},
		{"sense", "1 to allow matching principals, 0 to deny"},
	} {
		props[f.name] = fs.String(f.name, "", f.usage)
	}
	return props
}

const aclOptionsUsage = `
ACL Properties:

  -uidlist  Comma-separated users the rule applies to; empty matches all
  -gidlist  Comma-separated groups the rule applies to; empty matches all
  -sense    1 to allow matching principals, 0 to deny
`

// ACLAddCommand creates an ACL rule.
type ACLAddCommand struct {
	Meta
}

func (c *ACLAddCommand) Help() string {
	helpText := `
Usage: qmanager acl add [options] <name>

  Add an ACL rule to the catalog. Machines reference rules by name and
  evaluate them in order; the first matching rule decides.
` + aclOptionsUsage + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *ACLAddCommand) Synopsis() string {
	return "Add an ACL rule to the catalog"
}

func (c *ACLAddCommand) Run(args []string) int {
	fs := c.flagSet("acl add")
	props := aclFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Ui.Error("exactly one acl name is required")
		return 1
	}

	// add_acl requires every property, so defaults are sent too.
	req := map[string]string{"name": fs.Arg(0), "sense": "1"}
	for name, p := range props {
		if *p != "" {
			req[name] = *p
		} else if _, ok := req[name]; !ok {
			req[name] = ""
		}
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := client.ACLAdd(req); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	return 0
}

// ACLUpdateCommand changes an ACL rule.
type ACLUpdateCommand struct {
	Meta
}

func (c *ACLUpdateCommand) Help() string {
	helpText := `
Usage: qmanager acl update [options] <name>

  Update an ACL rule. Only the properties given on the command line
  change; machines referencing the rule re-evaluate their blocked
  jobs afterwards.
` + aclOptionsUsage + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *ACLUpdateCommand) Synopsis() string {
	return "Update an ACL rule"
}

func (c *ACLUpdateCommand) Run(args []string) int {
	fs := c.flagSet("acl update")
	props := aclFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Ui.Error("exactly one acl name is required")
		return 1
	}

	req := map[string]string{"name": fs.Arg(0)}
	fs.Visit(func(f *flag.Flag) {
		if p, ok := props[f.Name]; ok {
			req[f.Name] = *p
		}
	})

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := client.ACLUpdate(req); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	return 0
}

// ACLDeleteCommand removes an ACL rule.
type ACLDeleteCommand struct {
	Meta
}

func (c *ACLDeleteCommand) Help() string {
	helpText := `
Usage: qmanager acl delete [options] <name>

  Remove an ACL rule from the catalog. Fails while any machine
  references the rule.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *ACLDeleteCommand) Synopsis() string {
	return "Remove an ACL rule from the catalog"
}

func (c *ACLDeleteCommand) Run(args []string) int {
	fs := c.flagSet("acl delete")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Ui.Error("exactly one acl name is required")
		return 1
	}

	client, err := c.client()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := client.ACLDelete(fs.Arg(0)); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	return 0
}
