// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

// Package qmanager implements the queue manager: a single-instance
// daemon that admits build jobs over a local socket and matches them to
// a pool of build machines subject to constraints and ACLs.
package qmanager

import (
	"fmt"
	"os"
	"path/filepath"

	envparse "github.com/hashicorp/go-envparse"
)

const (
	// DefaultSocketPath is where clients expect the admission socket.
	DefaultSocketPath = "/tmp/.qmgr"

	// DefaultStatePath is the directory holding the catalog file.
	DefaultStatePath = "/var/db/qmanager"

	// DefaultDatabaseFile is the catalog file name inside the state
	// directory.
	DefaultDatabaseFile = "qmanager.db"
)

// Config is the daemon startup configuration, read from a flat
// key/value file.
type Config struct {
	// Path is the state directory (QMANAGER_PATH).
	Path string

	// DatabaseFile is the catalog file name (QMANAGER_DATABASE_FILE).
	DatabaseFile string

	// SocketPath is the admission socket (QMANAGER_SOCKET_PATH).
	SocketPath string

	// LogLevel is the hclog level name (QMANAGER_LOG_LEVEL).
	LogLevel string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:         DefaultStatePath,
		DatabaseFile: DefaultDatabaseFile,
		SocketPath:   DefaultSocketPath,
		LogLevel:     "INFO",
	}
}

// DatabasePath is the full path of the catalog file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Path, c.DatabaseFile)
}

// LoadConfig reads a key/value config file over the defaults. A
// missing file is not an error; unknown keys are ignored.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return c, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	kv, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if v, ok := kv["QMANAGER_PATH"]; ok {
		c.Path = v
	}
	if v, ok := kv["QMANAGER_DATABASE_FILE"]; ok {
		c.DatabaseFile = v
	}
	if v, ok := kv["QMANAGER_SOCKET_PATH"]; ok {
		c.SocketPath = v
	}
	if v, ok := kv["QMANAGER_LOG_LEVEL"]; ok {
		c.LogLevel = v
	}
	return c, nil
}
