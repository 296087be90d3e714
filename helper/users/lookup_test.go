// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package users

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestLookupUID_digits(t *testing.T) {
	uid, err := LookupUID("123")
	must.NoError(t, err)
	must.Eq(t, 123, uid)
}

func TestLookupUID_root(t *testing.T) {
	uid, err := LookupUID("root")
	must.NoError(t, err)
	must.Eq(t, 0, uid)
}

func TestLookupUID_unknown(t *testing.T) {
	_, err := LookupUID("no-such-user-qmanager")
	must.Error(t, err)
}

func TestLookupGID_digits(t *testing.T) {
	gid, err := LookupGID("31337")
	must.NoError(t, err)
	must.Eq(t, 31337, gid)
}

func TestLookupGID_unknown(t *testing.T) {
	_, err := LookupGID("no-such-group-qmanager")
	must.Error(t, err)
}

func TestLookupUID_empty(t *testing.T) {
	_, err := LookupUID("")
	must.Error(t, err)
}
