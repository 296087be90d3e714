// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

// Package command holds the qmanager CLI subcommands.
package command

import (
	"flag"
	"strings"

	"github.com/hashicorp/cli"

	"github.com/freebsd/qmanager/api"
)

// Meta carries the options common to every subcommand.
type Meta struct {
	Ui cli.Ui

	socketPath string
	proxyUID   string
	proxyGIDs  string
}

// flagSet returns a flag set preloaded with the common flags. The
// proxy flags are accepted everywhere but only honored by the daemon
// on job commands from root.
func (m *Meta) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&m.socketPath, "socket", api.DefaultConfig().SocketPath,
		"Path of the daemon socket")
	fs.StringVar(&m.proxyUID, "uid", "",
		"Submit on behalf of this user (root only)")
	fs.StringVar(&m.proxyGIDs, "gids", "",
		"Comma-separated groups for -uid (root only)")
	return fs
}

// client builds an API client from the parsed flags.
func (m *Meta) client() (*api.Client, error) {
	config := api.DefaultConfig()
	config.SocketPath = m.socketPath
	config.ProxyUID = m.proxyUID
	if m.proxyGIDs != "" {
		config.ProxyGIDs = strings.Split(m.proxyGIDs, ",")
	}
	return api.NewClient(config)
}

// generalOptionsUsage is appended to every subcommand's help text.
const generalOptionsUsage = `
General Options:

  -socket=<path>
    Path of the daemon socket. Defaults to /tmp/.qmgr.

  -uid=<user>
    Submit the request on behalf of another user. Honored only when
    the caller is root.

  -gids=<group,...>
    Groups accompanying -uid. Honored only when the caller is root.
`
