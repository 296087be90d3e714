// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

// Package api is the client library for the qmanager daemon. Each
// command opens its own connection to the daemon's Unix socket; a
// blocking acquire keeps its connection open until the daemon places
// the job.
package api

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/freebsd/qmanager/protocol"
)

const (
	// connectBackoffBase is the first retry delay after a failed
	// connect; the daemon may be restarting.
	connectBackoffBase = 1 * time.Second

	// connectBackoffCap bounds the retry delay.
	connectBackoffCap = 64 * time.Second
)

// Config configures the client.
type Config struct {
	// SocketPath is the daemon's Unix socket.
	SocketPath string

	// ConnectRetries is how many failed connects to retry with
	// exponential backoff before giving up. Zero means fail on the
	// first error.
	ConnectRetries int

	// ProxyUID and ProxyGIDs, when set, are sent on commands that
	// accept credentials. The daemon honors them only from root.
	ProxyUID  string
	ProxyGIDs []string
}

// DefaultConfig returns a config pointing at the default socket.
func DefaultConfig() *Config {
	return &Config{SocketPath: "/tmp/.qmgr"}
}

// Client issues commands to the daemon.
type Client struct {
	config Config
}

// NewClient returns a client for the given config.
func NewClient(config *Config) (*Client, error) {
	if config.SocketPath == "" {
		return nil, fmt.Errorf("missing socket path")
	}
	return &Client{config: *config}, nil
}

// Allocation is the daemon's answer to a placed job.
type Allocation struct {
	ID      uint64
	Machine string
}

// BlockedFunc is called with the job id when the daemon parks an
// acquire instead of placing it. The call then blocks until a machine
// frees up.
type BlockedFunc func(id uint64)

// connect dials the daemon, retrying with exponential backoff.
func (c *Client) connect() (net.Conn, error) {
	backoff := connectBackoffBase
	var lastErr error
	for attempt := 0; ; attempt++ {
		conn, err := net.Dial("unix", c.config.SocketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt >= c.config.ConnectRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > connectBackoffCap {
			backoff = connectBackoffCap
		}
	}
	return nil, fmt.Errorf("failed to connect to %q: %w", c.config.SocketPath, lastErr)
}

// roundTrip sends one command and reads frames until the final
// response. Intermediate 203 frames are reported through onBlock.
func (c *Client) roundTrip(cmd string, args map[string]interface{}, onBlock BlockedFunc) (int, map[string]interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := protocol.ValidateCommand(cmd, args); err != nil {
		return 0, nil, err
	}

	conn, err := c.connect()
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()

	if err := protocol.WriteFrame(conn, cmd, args); err != nil {
		return 0, nil, err
	}

	br := bufio.NewReader(conn)
	for {
		line, rargs, err := protocol.ReadFrame(br)
		if err != nil {
			return 0, nil, err
		}
		code, err := protocol.ParseStatusLine(line)
		if err != nil {
			return 0, nil, err
		}
		if err := protocol.ValidateStatus(code, rargs); err != nil {
			return 0, nil, fmt.Errorf("bad %d response: %w", code, err)
		}

		if code == protocol.StatusOKBlocking {
			if id, ok := rargs["id"].(int); ok && onBlock != nil {
				onBlock(uint64(id))
			}
			// The connection stays open; the next frame carries the
			// placement.
			continue
		}
		return code, rargs, nil
	}
}

// Command sends a raw command and returns the response arguments. A
// non-2xx response becomes a StatusError.
func (c *Client) Command(cmd string, args map[string]interface{}) (map[string]interface{}, error) {
	code, rargs, err := c.roundTrip(cmd, args, nil)
	if err != nil {
		return nil, err
	}
	if !protocol.IsSuccess(code) {
		return nil, statusError(code, rargs)
	}
	return rargs, nil
}

// withProxy adds the configured proxy credentials to an argument map.
func (c *Client) withProxy(args map[string]interface{}) map[string]interface{} {
	if c.config.ProxyUID != "" {
		args["uid"] = c.config.ProxyUID
	}
	if len(c.config.ProxyGIDs) > 0 {
		args["gids"] = c.config.ProxyGIDs
	}
	return args
}

// acquire implements try, acquire, and reconnect, which share their
// response shape.
func (c *Client) acquire(cmd string, args map[string]interface{}, onBlock BlockedFunc) (*Allocation, error) {
	code, rargs, err := c.roundTrip(cmd, c.withProxy(args), onBlock)
	if err != nil {
		return nil, err
	}
	if code != protocol.StatusJobAllocated {
		return nil, statusError(code, rargs)
	}
	id, okID := rargs["id"].(int)
	machine, okMachine := rargs["machine"].(string)
	if !okID || !okMachine {
		return nil, fmt.Errorf("%w: malformed allocation", protocol.ErrBadPayload)
	}
	return &Allocation{ID: uint64(id), Machine: machine}, nil
}

// Acquire registers a job and blocks until the daemon places it.
// onBlock, if non-nil, is told the job id when the job parks.
func (c *Client) Acquire(name, jobType string, priority int, mdl []string, onBlock BlockedFunc) (*Allocation, error) {
	return c.acquire("acquire", map[string]interface{}{
		"name":     name,
		"type":     jobType,
		"priority": priority,
		"mdl":      mdl,
	}, onBlock)
}

// Try registers a job only if a machine is free right now.
func (c *Client) Try(name, jobType string, priority int, mdl []string) (*Allocation, error) {
	return c.acquire("try", map[string]interface{}{
		"name":     name,
		"type":     jobType,
		"priority": priority,
		"mdl":      mdl,
	}, nil)
}

// Reconnect reattaches to a blocked job whose previous connection was
// lost and blocks until the daemon places it.
func (c *Client) Reconnect(id uint64, onBlock BlockedFunc) (*Allocation, error) {
	return c.acquire("reconnect", map[string]interface{}{"id": int(id)}, onBlock)
}

// Release frees the machine slot held by a running job.
func (c *Client) Release(id uint64) error {
	_, err := c.Command("release", c.withProxy(map[string]interface{}{"id": int(id)}))
	return err
}

// Status returns one line per machine matching the description list.
func (c *Client) Status(mdl []string) ([]string, error) {
	if mdl == nil {
		mdl = []string{}
	}
	rargs, err := c.Command("status", map[string]interface{}{"mdl": mdl})
	if err != nil {
		return nil, err
	}
	return listResult(rargs, "machines"), nil
}

// Jobs returns one line per registered job.
func (c *Client) Jobs() ([]string, error) {
	rargs, err := c.Command("jobs", nil)
	if err != nil {
		return nil, err
	}
	return listResult(rargs, "jobs"), nil
}

// MachineAdd creates a machine from its catalog properties.
func (c *Client) MachineAdd(props map[string]string) error {
	_, err := c.Command("add", stringArgs(props))
	return err
}

// MachineUpdate changes properties of an existing machine.
func (c *Client) MachineUpdate(props map[string]string) error {
	_, err := c.Command("update", stringArgs(props))
	return err
}

// MachineDelete removes a machine.
func (c *Client) MachineDelete(name string) error {
	_, err := c.Command("delete", map[string]interface{}{"name": name})
	return err
}

// ACLAdd creates an ACL rule.
func (c *Client) ACLAdd(props map[string]string) error {
	_, err := c.Command("add_acl", stringArgs(props))
	return err
}

// ACLUpdate changes an existing ACL rule.
func (c *Client) ACLUpdate(props map[string]string) error {
	_, err := c.Command("update_acl", stringArgs(props))
	return err
}

// ACLDelete removes an ACL rule.
func (c *Client) ACLDelete(name string) error {
	_, err := c.Command("del_acl", map[string]interface{}{"name": name})
	return err
}

// stringArgs widens a string property map to wire arguments.
func stringArgs(props map[string]string) map[string]interface{} {
	args := make(map[string]interface{}, len(props))
	for k, v := range props {
		args[k] = v
	}
	return args
}

// listResult extracts an optional string-list result argument.
func listResult(args map[string]interface{}, key string) []string {
	if v, ok := args[key].([]string); ok {
		return v
	}
	return []string{}
}

// statusError builds the error for a non-2xx response.
func statusError(code int, args map[string]interface{}) error {
	e := &protocol.StatusError{Code: code}
	if b, ok := args["body"].(string); ok {
		e.Body = b
	}
	if code == protocol.StatusExists {
		if n, ok := args["name"].(string); ok {
			e.Body = strconv.Quote(n)
		}
	}
	return e
}
