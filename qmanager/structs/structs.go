// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

// Package structs holds the catalog row types shared by the store, the
// scheduler, and the CLI.
package structs

import (
	"bytes"
	"slices"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// ACLRow is the persisted form of an ACL rule. The uid and gid lists
// keep the submitted name-or-digit strings; resolution to numeric ids
// happens when the rule is compiled for evaluation.
type ACLRow struct {
	Name    string
	UIDList []string
	GIDList []string
	Sense   bool
}

// Copy returns a deep copy of the row.
func (a *ACLRow) Copy() *ACLRow {
	na := *a
	na.UIDList = slices.Clone(a.UIDList)
	na.GIDList = slices.Clone(a.GIDList)
	return &na
}

// MachineRow is the persisted form of a build machine.
type MachineRow struct {
	// Name identifies the machine. Lowercase, unique.
	Name string

	// Domain is the resource domain the machine belongs to.
	Domain string

	// PrimaryPool is the pool used for job priority decisions.
	PrimaryPool string

	// Pools is the ordered list of pool tags the machine serves.
	Pools []string

	// Arch is the machine architecture.
	Arch string

	// OSVersion is the running kernel version.
	OSVersion int

	// NumCPUs is the cpu count.
	NumCPUs int

	// MaxJobs caps concurrently running jobs.
	MaxJobs int

	// HasZFS reports ZFS availability.
	HasZFS bool

	// Online gates scheduling; offline machines are never picked.
	Online bool

	// ACL is the ordered list of ACL rule names guarding the machine.
	ACL []string
}

// Copy returns a deep copy of the row.
func (m *MachineRow) Copy() *MachineRow {
	nm := *m
	nm.Pools = slices.Clone(m.Pools)
	nm.ACL = slices.Clone(m.ACL)
	return &nm
}

// JobRow is the persisted form of a job. Priority and StartTime must
// not change while the job is blocked: they key the blocked heaps.
type JobRow struct {
	// ID is assigned from the catalog's monotonic sequence and is
	// never reused.
	ID uint64

	// Name of the job, client-supplied.
	Name string

	// Type of the job, client-supplied.
	Type string

	// Priority of the job; a lower value schedules first.
	Priority int

	// Owner is the uid the job runs as.
	Owner int

	// GIDs is the owner's gid set, frozen at admission.
	GIDs []int

	// Machines is the machine the job runs on (running=true, one
	// element) or every machine the job is blocked on.
	Machines []string

	// StartTime is the unix time the job started or blocked.
	StartTime int64

	// MDL is the original constraint list, retained verbatim so the
	// job can be revalidated when machine attributes change.
	MDL []string

	// Running is true when the job holds a slot, false while blocked.
	Running bool
}

// Copy returns a deep copy of the row.
func (j *JobRow) Copy() *JobRow {
	nj := *j
	nj.GIDs = slices.Clone(j.GIDs)
	nj.Machines = slices.Clone(j.Machines)
	nj.MDL = slices.Clone(j.MDL)
	return &nj
}

// msgpackHandle is a shared handle for encoding and decoding of rows.
var msgpackHandle = &codec.MsgpackHandle{}

// Encode serializes a row for storage.
func Encode(msg interface{}) ([]byte, error) {
	var buf bytes.Buffer
	err := codec.NewEncoder(&buf, msgpackHandle).Encode(msg)
	return buf.Bytes(), err
}

// Decode deserializes a stored row.
func Decode(buf []byte, out interface{}) error {
	return codec.NewDecoder(bytes.NewReader(buf), msgpackHandle).Decode(out)
}
