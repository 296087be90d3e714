// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/freebsd/qmanager/helper/users"
	"github.com/freebsd/qmanager/protocol"
)

// Server is the admission side of the daemon: it owns the Unix socket,
// reads one request per connection, resolves the peer's credentials,
// and hands the session to the scheduler. The connection stays open
// until the scheduler finishes the session or the client goes away.
type Server struct {
	logger hclog.Logger
	sched  *Scheduler
	path   string

	ln *net.UnixListener

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	connWG sync.WaitGroup
}

// NewServer binds the Unix socket, replacing any stale socket file left
// by a previous instance. The socket is made world-writable; the ACLs
// decide who gets which machine, not the filesystem.
func NewServer(sched *Scheduler, path string, logger hclog.Logger) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %q: %w", path, err)
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", path, err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to chmod socket %q: %w", path, err)
	}

	return &Server{
		logger:     logger.Named("server"),
		sched:      sched,
		path:       path,
		ln:         ln,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Run accepts connections until Shutdown. Each connection is serviced
// on its own goroutine.
func (s *Server) Run() {
	s.logger.Info("listening", "socket", s.path)
	for {
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return
			default:
			}
			s.logger.Error("failed to accept connection", "error", err)
			continue
		}
		s.connWG.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting, waits for in-flight connections, and
// removes the socket file.
func (s *Server) Shutdown() {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	close(s.shutdownCh)
	s.ln.Close()
	s.connWG.Wait()
	os.Remove(s.path)
}

// handleConn services one connection: read the request frame, identify
// the peer, enqueue, and hold the socket open until the scheduler is
// done with it. A disconnect while the session is parked is turned into
// a cancel.
func (s *Server) handleConn(conn *net.UnixConn) {
	defer s.connWG.Done()
	defer conn.Close()

	br := bufio.NewReader(conn)
	cmd, args, err := protocol.ReadFrame(br)
	if err != nil {
		s.logger.Warn("bad request frame", "error", err)
		s.refuse(conn, protocol.StatusInvalidCommand, err)
		return
	}

	uid, gids, err := protocol.PeerCredentials(conn)
	if err != nil {
		s.logger.Error("failed to read peer credentials", "error", err)
		s.refuse(conn, protocol.StatusPermissionDenied, err)
		return
	}

	uid, gids, err = applyProxy(uid, gids, args)
	if err != nil {
		s.logger.Warn("rejected credential proxy", "peer_uid", uid, "error", err)
		s.refuse(conn, protocol.StatusPermissionDenied, err)
		return
	}

	s.logger.Debug("request", "command", cmd, "uid", uid)

	sess := NewSession(conn, cmd, args, uid, gids)
	s.sched.Enqueue(sess)

	// Watch for the client hanging up while the session is parked. The
	// protocol allows no further client frames on this connection, so
	// any read completion means the peer is gone.
	hangup := make(chan struct{})
	go func() {
		br.ReadByte()
		close(hangup)
	}()

	select {
	case <-sess.Done():
	case <-hangup:
		s.sched.EnqueueCancel(sess)
		<-sess.Done()
	case <-s.shutdownCh:
		s.sched.EnqueueCancel(sess)
		<-sess.Done()
	}
}

// refuse writes a single error response on a connection that never
// became a session.
func (s *Server) refuse(conn *net.UnixConn, code int, err error) {
	werr := protocol.WriteFrame(conn, strconv.Itoa(code), body(err))
	if werr != nil {
		s.logger.Debug("failed to write refusal", "error", werr)
	}
}

// applyProxy substitutes the credentials a root peer supplies in the
// uid and gids arguments; the build master submits jobs on behalf of
// the users that queued them. From anyone else the arguments are
// dropped and the kernel credentials stand. Either way they are
// consumed here and never reach the scheduler.
func applyProxy(uid int, gids []int, args map[string]interface{}) (int, []int, error) {
	uidArg, hasUID := args["uid"]
	gidsArg, hasGIDs := args["gids"]
	if !hasUID && !hasGIDs {
		return uid, gids, nil
	}
	delete(args, "uid")
	delete(args, "gids")
	if uid != 0 {
		return uid, gids, nil
	}

	if hasUID {
		u, err := proxyUID(uidArg)
		if err != nil {
			return uid, gids, err
		}
		uid = u
	}
	if hasGIDs {
		g, err := proxyGIDs(gidsArg)
		if err != nil {
			return uid, gids, err
		}
		gids = g
	}
	return uid, gids, nil
}

// proxyUID resolves a proxied uid argument: numeric id or user name.
func proxyUID(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case string:
		return users.LookupUID(t)
	default:
		return 0, fmt.Errorf("uid argument must be an integer or user name")
	}
}

// proxyGIDs resolves a proxied gids argument: a list of numeric ids or
// group names, or a single one of either.
func proxyGIDs(v interface{}) ([]int, error) {
	switch t := v.(type) {
	case []int:
		return t, nil
	case int:
		return []int{t}, nil
	case []string:
		gids := make([]int, 0, len(t))
		for _, g := range t {
			gid, err := users.LookupGID(g)
			if err != nil {
				return nil, err
			}
			gids = append(gids, gid)
		}
		return gids, nil
	case string:
		// Clients send the list comma-joined in one string.
		if t == "" {
			return []int{}, nil
		}
		parts := strings.Split(t, ",")
		gids := make([]int, 0, len(parts))
		for _, g := range parts {
			gid, err := users.LookupGID(g)
			if err != nil {
				return nil, err
			}
			gids = append(gids, gid)
		}
		return gids, nil
	default:
		return nil, fmt.Errorf("gids argument must be a list of integers or group names")
	}
}
