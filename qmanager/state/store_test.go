// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freebsd/qmanager/helper/testlog"
	"github.com/freebsd/qmanager/qmanager/structs"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "qmanager.db"), testlog.HCLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_openEmpty(t *testing.T) {
	s := testStore(t)

	acls, err := s.LoadACLs()
	require.NoError(t, err)
	require.Empty(t, acls)

	machines, err := s.LoadMachines()
	require.NoError(t, err)
	require.Empty(t, machines)

	jobs, err := s.LoadJobs()
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestStore_machineRoundTrip(t *testing.T) {
	s := testStore(t)

	row := &structs.MachineRow{
		Name: "m1", Domain: "d", PrimaryPool: "p1",
		Pools: []string{"p1"}, Arch: "amd64", OSVersion: 1200,
		NumCPUs: 4, MaxJobs: 1, HasZFS: true, Online: true,
		ACL: []string{"open"},
	}
	require.NoError(t, s.PutMachine(row))

	machines, err := s.LoadMachines()
	require.NoError(t, err)
	require.Len(t, machines, 1)
	require.Equal(t, row, machines[0])

	require.NoError(t, s.DeleteMachine("m1"))
	machines, err = s.LoadMachines()
	require.NoError(t, err)
	require.Empty(t, machines)
}

func TestStore_machinesNameOrder(t *testing.T) {
	s := testStore(t)

	for _, name := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, s.PutMachine(&structs.MachineRow{Name: name}))
	}

	machines, err := s.LoadMachines()
	require.NoError(t, err)
	require.Len(t, machines, 3)
	require.Equal(t, "alpha", machines[0].Name)
	require.Equal(t, "mike", machines[1].Name)
	require.Equal(t, "zulu", machines[2].Name)
}

func TestStore_aclRoundTrip(t *testing.T) {
	s := testStore(t)

	row := &structs.ACLRow{
		Name:    "committers",
		UIDList: []string{"1001", "1002"},
		GIDList: []string{},
		Sense:   true,
	}
	require.NoError(t, s.PutACL(row))

	acls, err := s.LoadACLs()
	require.NoError(t, err)
	require.Len(t, acls, 1)
	require.Equal(t, row, acls[0])

	require.NoError(t, s.DeleteACL("committers"))
	acls, err = s.LoadACLs()
	require.NoError(t, err)
	require.Empty(t, acls)
}

func TestStore_jobIDsMonotonic(t *testing.T) {
	s := testStore(t)

	id1, err := s.NextJobID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), id1)

	id2, err := s.NextJobID()
	require.NoError(t, err)
	require.Equal(t, uint64(2), id2)

	// Deleting rows must not recycle ids.
	require.NoError(t, s.PutJob(&structs.JobRow{ID: id2, Name: "j"}))
	require.NoError(t, s.DeleteJob(id2))

	id3, err := s.NextJobID()
	require.NoError(t, err)
	require.Equal(t, uint64(3), id3)
}

func TestStore_purgeJobs(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 3; i++ {
		id, err := s.NextJobID()
		require.NoError(t, err)
		require.NoError(t, s.PutJob(&structs.JobRow{ID: id, Name: "j", Running: true, Machines: []string{"m1"}}))
	}

	purged, err := s.PurgeJobs()
	require.NoError(t, err)
	require.Equal(t, 3, purged)

	jobs, err := s.LoadJobs()
	require.NoError(t, err)
	require.Empty(t, jobs)

	// Sequence survives the purge.
	id, err := s.NextJobID()
	require.NoError(t, err)
	require.Equal(t, uint64(4), id)
}

func TestStore_persistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qmanager.db")

	s, err := Open(path, testlog.HCLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.PutMachine(&structs.MachineRow{Name: "m1", MaxJobs: 1}))
	require.NoError(t, s.Close())

	s, err = Open(path, testlog.HCLogger(t))
	require.NoError(t, err)
	defer s.Close()

	machines, err := s.LoadMachines()
	require.NoError(t, err)
	require.Len(t, machines, 1)
	require.Equal(t, "m1", machines[0].Name)
}
