// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

// Package users resolves user and group names to their numeric ids.
package users

import (
	"fmt"
	"os/user"
	"strconv"
)

// allDigits reports whether s is a non-empty string of ASCII digits.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// LookupUID resolves a user name or numeric string to a uid. Digit
// strings bypass the name service entirely.
func LookupUID(s string) (int, error) {
	if allDigits(s) {
		return strconv.Atoi(s)
	}
	u, err := user.Lookup(s)
	if err != nil {
		return 0, fmt.Errorf("failed to lookup user %q: %w", s, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("failed to parse uid of user %q: %w", s, err)
	}
	return uid, nil
}

// LookupGID resolves a group name or numeric string to a gid. Digit
// strings bypass the name service entirely.
func LookupGID(s string) (int, error) {
	if allDigits(s) {
		return strconv.Atoi(s)
	}
	g, err := user.LookupGroup(s)
	if err != nil {
		return 0, fmt.Errorf("failed to lookup group %q: %w", s, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, fmt.Errorf("failed to parse gid of group %q: %w", s, err)
	}
	return gid, nil
}
