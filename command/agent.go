// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package command

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/freebsd/qmanager/qmanager"
	"github.com/freebsd/qmanager/qmanager/state"
)

// AgentCommand runs the daemon in the foreground.
type AgentCommand struct {
	Meta
}

func (c *AgentCommand) Help() string {
	helpText := `
Usage: qmanager agent [options]

  Run the queue manager daemon in the foreground. The daemon listens
  on a Unix socket, keeps its machine and ACL catalog in a boltdb
  file, and exits cleanly on SIGINT or SIGTERM.

Options:

  -config=<path>
    Path of the key/value configuration file. A missing file falls
    back to the built-in defaults.
`
	return strings.TrimSpace(helpText)
}

func (c *AgentCommand) Synopsis() string {
	return "Run the queue manager daemon"
}

func (c *AgentCommand) Run(args []string) int {
	var configPath string
	fs := c.flagSet("agent")
	fs.StringVar(&configPath, "config", "", "Path of the configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	config, err := qmanager.LoadConfig(configPath)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:  "qmanager",
		Level: hclog.LevelFromString(config.LogLevel),
	})

	// Gauges are kept in memory and dumped to stderr on SIGUSR1.
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)
	metrics.NewGlobal(metrics.DefaultConfig("qmanager"), inm)

	if err := os.MkdirAll(config.Path, 0o700); err != nil {
		logger.Error("failed to create state directory", "path", config.Path, "error", err)
		return 1
	}

	store, err := state.Open(config.DatabasePath(), logger)
	if err != nil {
		logger.Error("failed to open catalog", "error", err)
		return 1
	}
	defer store.Close()
	logger.Info("catalog open", "file", store.Name())

	sched, err := qmanager.NewScheduler(store, logger)
	if err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	go sched.Run()

	srv, err := qmanager.NewServer(sched, config.SocketPath, logger)
	if err != nil {
		logger.Error("failed to start server", "error", err)
		sched.Stop()
		return 1
	}
	go srv.Run()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", fmt.Sprintf("%v", sig))

	srv.Shutdown()
	sched.Stop()
	return 0
}
