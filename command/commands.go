// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"github.com/hashicorp/cli"
)

// Commands returns the factories for every qmanager subcommand.
func Commands(metaPtr *Meta) map[string]cli.CommandFactory {
	if metaPtr == nil {
		metaPtr = new(Meta)
	}
	meta := *metaPtr

	return map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &AgentCommand{Meta: meta}, nil
		},
		"acquire": func() (cli.Command, error) {
			return &AcquireCommand{Meta: meta, block: true}, nil
		},
		"try": func() (cli.Command, error) {
			return &AcquireCommand{Meta: meta, block: false}, nil
		},
		"reconnect": func() (cli.Command, error) {
			return &ReconnectCommand{Meta: meta}, nil
		},
		"release": func() (cli.Command, error) {
			return &ReleaseCommand{Meta: meta}, nil
		},
		"jobs": func() (cli.Command, error) {
			return &JobsCommand{Meta: meta}, nil
		},
		"status": func() (cli.Command, error) {
			return &StatusCommand{Meta: meta}, nil
		},
		"machine add": func() (cli.Command, error) {
			return &MachineAddCommand{Meta: meta}, nil
		},
		"machine update": func() (cli.Command, error) {
			return &MachineUpdateCommand{Meta: meta}, nil
		},
		"machine delete": func() (cli.Command, error) {
			return &MachineDeleteCommand{Meta: meta}, nil
		},
		"acl add": func() (cli.Command, error) {
			return &ACLAddCommand{Meta: meta}, nil
		},
		"acl update": func() (cli.Command, error) {
			return &ACLUpdateCommand{Meta: meta}, nil
		},
		"acl delete": func() (cli.Command, error) {
			return &ACLDeleteCommand{Meta: meta}, nil
		},
		"dump": func() (cli.Command, error) {
			return &DumpCommand{Meta: meta}, nil
		},
	}
}
