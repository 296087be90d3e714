// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freebsd/qmanager/acl"
	"github.com/freebsd/qmanager/helper/testlog"
	"github.com/freebsd/qmanager/qmanager/structs"
)

func testMachine(t *testing.T, row *structs.MachineRow, rules map[string]*acl.Rule) *Machine {
	t.Helper()
	m, err := newMachine(row, rules, testlog.HCLogger(t))
	require.NoError(t, err)
	return m
}

func TestNewMachine_unknownACL(t *testing.T) {
	row := &structs.MachineRow{Name: "m1", ACL: []string{"nosuch"}}
	_, err := newMachine(row, map[string]*acl.Rule{}, testlog.HCLogger(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "nosuch")
}

func TestMachine_validateUserMemoized(t *testing.T) {
	allow, err := acl.NewRule("committers", []string{"1001"}, nil, true)
	require.NoError(t, err)
	rules := map[string]*acl.Rule{"committers": allow}

	m := testMachine(t, &structs.MachineRow{Name: "m1", ACL: []string{"committers"}}, rules)

	require.True(t, m.validateUser(1001, []int{100}))
	require.False(t, m.validateUser(1002, []int{100}))

	// Memoized per (uid, sorted gids).
	require.Len(t, m.validated, 2)
	require.True(t, m.validateUser(1001, []int{100}))
	require.Len(t, m.validated, 2)

	// Gid order does not fork the cache key.
	m.validateUser(1001, []int{2, 1})
	m.validateUser(1001, []int{1, 2})
	require.Len(t, m.validated, 3)

	m.clearValidated()
	require.Empty(t, m.validated)
}

func TestPickMachine_leastLoaded(t *testing.T) {
	m1 := testMachine(t, &structs.MachineRow{Name: "m1", MaxJobs: 2, Online: true}, nil)
	m2 := testMachine(t, &structs.MachineRow{Name: "m2", MaxJobs: 2, Online: true}, nil)
	m1.curJobs = 1

	require.Equal(t, m2, pickMachine([]*Machine{m1, m2}))
}

func TestPickMachine_skipsOfflineAndFull(t *testing.T) {
	offline := testMachine(t, &structs.MachineRow{Name: "m1", MaxJobs: 2, Online: false}, nil)
	full := testMachine(t, &structs.MachineRow{Name: "m2", MaxJobs: 1, Online: true}, nil)
	full.curJobs = 1
	zero := testMachine(t, &structs.MachineRow{Name: "m3", MaxJobs: 0, Online: true}, nil)

	require.Nil(t, pickMachine([]*Machine{offline, full, zero}))

	open := testMachine(t, &structs.MachineRow{Name: "m4", MaxJobs: 4, Online: true}, nil)
	require.Equal(t, open, pickMachine([]*Machine{offline, full, zero, open}))
}

func TestMachine_blockUnblock(t *testing.T) {
	m := testMachine(t, &structs.MachineRow{Name: "m1", MaxJobs: 1, Online: true}, nil)

	job := blockedJob(1, 10, 100)
	m.block(job)
	require.True(t, m.blocked.contains(1))

	// Double block is logged, not duplicated.
	m.block(job)
	require.Equal(t, 1, m.blocked.Len())

	m.unblock(job)
	require.False(t, m.blocked.contains(1))
	// Unblocking an absent job is tolerated.
	m.unblock(job)
}
