// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"github.com/freebsd/qmanager/qmanager/structs"
)

// Job is the runtime form of a job row. The embedded row is the
// persisted state; sess and pending exist only in memory.
type Job struct {
	structs.JobRow

	// sess is the client session awaiting the final reply, nil once
	// the client has disconnected or been answered.
	sess *Session

	// pending is true between construction and the first successful
	// commit; a pending job is not yet registered in the job table.
	pending bool
}

// Terminal states delete the row; there is no tombstone. A job is
// either running on exactly one machine or blocked on every machine
// named in Machines.
