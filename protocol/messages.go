// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Status codes carried on response frames. A leading digit of 2 means
// success; anything else is raised by the client library.
const (
	StatusOK               = 201 // request succeeded
	StatusJobAllocated     = 202 // job placed on a machine
	StatusOKBlocking       = 203 // job registered, connection held open
	StatusInvalidCommand   = 401
	StatusNoMachines       = 402
	StatusWouldBlock       = 403
	StatusNoSuchJob        = 404
	StatusJobNotRunning    = 405
	StatusBodyError        = 406
	StatusArgumentError    = 407
	StatusPermissionDenied = 408
	StatusJobRunning       = 409
	StatusJobConnected     = 410
	StatusExists           = 411
	StatusJobCancelled     = 412
)

// statusText maps status codes to their human-readable summaries.
var statusText = map[int]string{
	StatusOK:               "OK",
	StatusJobAllocated:     "Job allocated",
	StatusOKBlocking:       "OK (blocking)",
	StatusInvalidCommand:   "Invalid command",
	StatusNoMachines:       "No machines match constraints",
	StatusWouldBlock:       "All machines in use (would block)",
	StatusNoSuchJob:        "No such job",
	StatusJobNotRunning:    "Job not running (is blocked)",
	StatusBodyError:        "Error in body",
	StatusArgumentError:    "Error in argument",
	StatusPermissionDenied: "Permission denied",
	StatusJobRunning:       "Job already running",
	StatusJobConnected:     "Job reconnected",
	StatusExists:           "Object already exists",
	StatusJobCancelled:     "Job cancelled",
}

// StatusText returns the summary for a status code, or "Unknown".
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Unknown"
}

// IsSuccess reports whether a status code indicates success.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}

// StatusError is the error the client library raises for any response
// whose status does not begin with 2.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%d %s: %s", e.Code, StatusText(e.Code), e.Body)
	}
	return fmt.Sprintf("%d %s", e.Code, StatusText(e.Code))
}

// MissingArgumentError reports required arguments absent from a
// message.
type MissingArgumentError struct {
	Args []string
}

func (e *MissingArgumentError) Error() string {
	return "missing arguments: " + strings.Join(e.Args, " ")
}

// UnknownArgumentError reports arguments a message does not accept.
type UnknownArgumentError struct {
	Args []string
}

func (e *UnknownArgumentError) Error() string {
	return "unknown arguments: " + strings.Join(e.Args, " ")
}

// Message describes the argument schema of one command or status code.
type Message struct {
	Required []string
	Optional []string
	Help     string
}

// validate checks an argument map against the schema.
func (m *Message) validate(args map[string]interface{}) error {
	var missing []string
	for _, req := range m.Required {
		if _, ok := args[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return &MissingArgumentError{Args: missing}
	}

	var extra []string
	for k := range args {
		known := false
		for _, req := range m.Required {
			if k == req {
				known = true
				break
			}
		}
		for _, opt := range m.Optional {
			if k == opt {
				known = true
				break
			}
		}
		if !known {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		return &UnknownArgumentError{Args: extra}
	}
	return nil
}

// machineFields are the catalog properties of a machine, shared by the
// add and update schemas.
var machineFields = []string{
	"domain", "primarypool", "pools", "arch", "osversion",
	"numcpus", "maxjobs", "haszfs", "acl", "online",
}

// Commands is the table of requests the server accepts.
var Commands = map[string]*Message{
	"status": {
		Required: []string{"mdl"},
		Help:     "Show status of cluster machines",
	},
	"try": {
		Required: []string{"name", "type", "priority", "mdl"},
		Optional: []string{"uid", "gids"},
		Help:     "Attempt to register a job (non-blocking)",
	},
	"acquire": {
		Required: []string{"name", "type", "priority", "mdl"},
		Optional: []string{"uid", "gids"},
		Help:     "Register a job (blocking)",
	},
	"release": {
		Required: []string{"id"},
		Optional: []string{"uid", "gids"},
		Help:     "Release a previously registered job",
	},
	"jobs": {
		Help: "Display running jobs",
	},
	"reconnect": {
		Required: []string{"id"},
		Optional: []string{"uid", "gids"},
		Help:     "Reconnect to a blocked job",
	},
	"add": {
		Required: append([]string{"name"}, machineFields...),
		Help:     "Add a machine",
	},
	"update": {
		Required: []string{"name"},
		Optional: machineFields,
		Help:     "Update properties for a machine",
	},
	"delete": {
		Required: []string{"name"},
		Help:     "Delete a machine",
	},
	"add_acl": {
		Required: []string{"name", "uidlist", "gidlist", "sense"},
		Help:     "Add an ACL",
	},
	"update_acl": {
		Required: []string{"name"},
		Optional: []string{"uidlist", "gidlist", "sense"},
		Help:     "Update an ACL",
	},
	"del_acl": {
		Required: []string{"name"},
		Help:     "Delete an ACL",
	},
}

// Statuses is the table of responses the server emits.
var Statuses = map[int]*Message{
	StatusOK:               {Optional: []string{"body", "machines", "jobs"}},
	StatusJobAllocated:     {Required: []string{"machine", "id"}, Optional: []string{"body"}},
	StatusOKBlocking:       {Required: []string{"id"}, Optional: []string{"body"}},
	StatusInvalidCommand:   {Optional: []string{"body"}},
	StatusNoMachines:       {Optional: []string{"body"}},
	StatusWouldBlock:       {Optional: []string{"body"}},
	StatusNoSuchJob:        {Optional: []string{"body"}},
	StatusJobNotRunning:    {Optional: []string{"body"}},
	StatusBodyError:        {Optional: []string{"body"}},
	StatusArgumentError:    {Optional: []string{"body"}},
	StatusPermissionDenied: {Optional: []string{"body"}},
	StatusJobRunning:       {Optional: []string{"body"}},
	StatusJobConnected:     {Optional: []string{"body"}},
	StatusExists:           {Required: []string{"name"}, Optional: []string{"body"}},
	StatusJobCancelled:     {Optional: []string{"body"}},
}

// ValidateCommand checks a request's arguments against the command
// table. Unknown commands return an error.
func ValidateCommand(cmd string, args map[string]interface{}) error {
	msg, ok := Commands[cmd]
	if !ok {
		return fmt.Errorf("invalid command %q", cmd)
	}
	return msg.validate(args)
}

// ValidateStatus checks a response's arguments against the status
// table.
func ValidateStatus(code int, args map[string]interface{}) error {
	msg, ok := Statuses[code]
	if !ok {
		return fmt.Errorf("invalid status code %d", code)
	}
	return msg.validate(args)
}

// ParseStatusLine converts a response's command line into a status
// code.
func ParseStatusLine(line string) (int, error) {
	code, err := strconv.Atoi(line)
	if err != nil || len(line) != 3 {
		return 0, fmt.Errorf("%w: bad status line %q", ErrBadFrame, line)
	}
	return code, nil
}
