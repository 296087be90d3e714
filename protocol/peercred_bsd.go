// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

//go:build freebsd || darwin

package protocol

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// peerCredentials reads LOCAL_PEERCRED from the socket. The xucred
// carries the effective uid and the supplementary group list.
func peerCredentials(fd uintptr) (int, []int, error) {
	// Level 0 is SOL_LOCAL.
	cred, err := unix.GetsockoptXucred(int(fd), 0, unix.LOCAL_PEERCRED)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}
	if cred.Version != unix.XUCRED_VERSION {
		return 0, nil, fmt.Errorf("%w: unexpected xucred version %d", ErrIdentity, cred.Version)
	}

	ngroups := int(cred.Ngroups)
	if ngroups > len(cred.Groups) {
		ngroups = len(cred.Groups)
	}
	gids := make([]int, 0, ngroups)
	for _, g := range cred.Groups[:ngroups] {
		gids = append(gids, int(g))
	}
	return int(cred.Uid), gids, nil
}
