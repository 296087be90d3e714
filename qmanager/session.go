// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"io"
	"strconv"
	"sync"

	"github.com/freebsd/qmanager/protocol"
)

// Session is the per-connection record handed from the admission
// server to the scheduler. The admission side reads the request and
// the peer credentials; from enqueue on, only the scheduler worker
// writes to the connection, and it stops writing once done is
// signaled.
type Session struct {
	// Cmd and Args are the decoded request.
	Cmd  string
	Args map[string]interface{}

	// UID and GIDs are the effective principal, after any root-proxy
	// substitution.
	UID  int
	GIDs []int

	// out is the response stream. nil for synthetic sessions.
	out io.Writer

	// job is the job owning this session, set by the scheduler when a
	// blocking acquire parks.
	job *Job

	// cancelOf marks a synthetic cancel: the session whose client
	// disconnected.
	cancelOf *Session

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession builds a session for a decoded request.
func NewSession(out io.Writer, cmd string, args map[string]interface{}, uid int, gids []int) *Session {
	if args == nil {
		args = map[string]interface{}{}
	}
	return &Session{
		Cmd:  cmd,
		Args: args,
		UID:  uid,
		GIDs: gids,
		out:  out,
		done: make(chan struct{}),
	}
}

// Done is closed when the scheduler is finished with the session. The
// admission handler keeps the socket open until then.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// finish signals that no further frames will be written.
func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// send writes one response frame without finishing the session; used
// for the intermediate 203 of a blocking acquire.
func (s *Session) send(code int, args map[string]interface{}) error {
	if s.out == nil {
		return io.ErrClosedPipe
	}
	return protocol.WriteFrame(s.out, strconv.Itoa(code), args)
}

// reply writes the final response frame and finishes the session. The
// send error is returned so callers can treat the peer as gone.
func (s *Session) reply(code int, args map[string]interface{}) error {
	err := s.send(code, args)
	s.finish()
	return err
}
