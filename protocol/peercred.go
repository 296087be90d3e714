// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package protocol

import (
	"errors"
	"fmt"
	"net"
)

// ErrIdentity indicates the kernel reported peer credentials in a form
// the server does not understand.
var ErrIdentity = errors.New("cannot read peer credentials")

// PeerCredentials returns the kernel-reported uid and gids of the peer
// connected on a local stream socket.
func PeerCredentials(conn *net.UnixConn) (int, []int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}

	var uid int
	var gids []int
	var credErr error
	err = raw.Control(func(fd uintptr) {
		uid, gids, credErr = peerCredentials(fd)
	})
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}
	if credErr != nil {
		return 0, nil, credErr
	}
	return uid, gids, nil
}
