// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

//go:build linux

package protocol

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// peerCredentials reads SO_PEERCRED from the socket. Linux reports only
// the primary gid, so the gid list has a single element.
func peerCredentials(fd uintptr) (int, []int, error) {
	cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}
	return int(cred.Uid), []int{int(cred.Gid)}, nil
}
