// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"fmt"
	"sort"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/freebsd/qmanager/acl"
	"github.com/freebsd/qmanager/qmanager/structs"
)

// Machine is the runtime form of a machine row: the persisted
// properties plus the running set, the blocked heap, and the ACL
// validation cache. All mutation happens on the scheduler worker.
type Machine struct {
	row *structs.MachineRow

	// running maps job id to job; len(running) == curJobs.
	running map[uint64]*Job

	// curJobs counts jobs holding a slot.
	curJobs int

	// blocked holds jobs waiting for a slot on this machine.
	blocked *blockedHeap

	// rules is the compiled ACL, rebuilt whenever the acl field or a
	// referenced rule changes.
	rules []*acl.Rule

	// validated memoizes ACL evaluation per principal. Cleared along
	// with rules.
	validated map[string]bool

	logger hclog.Logger
}

// newMachine builds the runtime state for a machine row. rulesByName
// must contain every rule the row references.
func newMachine(row *structs.MachineRow, rulesByName map[string]*acl.Rule, logger hclog.Logger) (*Machine, error) {
	m := &Machine{
		row:       row,
		running:   make(map[uint64]*Job),
		blocked:   newBlockedHeap(),
		validated: make(map[string]bool),
		logger:    logger.Named("machine").With("machine", row.Name),
	}
	if err := m.compileACL(rulesByName); err != nil {
		return nil, err
	}
	return m, nil
}

// compileACL assembles the machine's rule list from the catalog.
func (m *Machine) compileACL(rulesByName map[string]*acl.Rule) error {
	rules := make([]*acl.Rule, 0, len(m.row.ACL))
	for _, name := range m.row.ACL {
		rule, ok := rulesByName[name]
		if !ok {
			return fmt.Errorf("machine %q references unknown acl %q", m.row.Name, name)
		}
		rules = append(rules, rule)
	}
	m.rules = rules
	m.clearValidated()
	return nil
}

// clearValidated drops the memoized ACL evaluations. Must be called
// whenever the machine's acl field or any referenced rule changes.
func (m *Machine) clearValidated() {
	m.validated = make(map[string]bool)
}

// credKey builds the cache key for a principal: uid plus the sorted
// gid list.
func credKey(uid int, gids []int) string {
	sorted := make([]int, len(gids))
	copy(sorted, gids)
	sort.Ints(sorted)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d:", uid)
	for i, g := range sorted {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", g)
	}
	return sb.String()
}

// validateUser evaluates the machine's ACL against a principal,
// memoizing the result.
func (m *Machine) validateUser(uid int, gids []int) bool {
	key := credKey(uid, gids)
	if res, ok := m.validated[key]; ok {
		return res
	}
	res := acl.Evaluate(m.rules, uid, set.From(gids))
	m.validated[key] = res
	return res
}

// load is curJobs/MaxJobs; a machine with load >= 1 is full.
func (m *Machine) load() float64 {
	if m.row.MaxJobs == 0 {
		return 1
	}
	return float64(m.curJobs) / float64(m.row.MaxJobs)
}

// pickMachine selects the least loaded machine from the candidates, or
// nil when every candidate is offline or full. Ties go to the earlier
// candidate; callers shuffle the list to avoid hot-spotting the first
// machine.
func pickMachine(candidates []*Machine) *Machine {
	var choice *Machine
	min := 2.0
	for _, m := range candidates {
		if !m.row.Online {
			continue
		}
		load := m.load()
		if load >= 1 {
			continue
		}
		if load < min {
			min = load
			choice = m
		}
	}
	return choice
}

// run records a job as running on this machine. incr is false when the
// job is promoted from the blocked heap into a slot that was never
// released.
func (m *Machine) run(job *Job, incr bool) {
	m.running[job.ID] = job
	if incr {
		m.curJobs++
	}
	if m.curJobs > m.row.MaxJobs {
		m.logger.Error("machine over capacity",
			"curjobs", m.curJobs, "maxjobs", m.row.MaxJobs)
	}
}

// block adds a job to the blocked heap. Duplicate inserts are a
// programming error.
func (m *Machine) block(job *Job) {
	if !m.blocked.push(job) {
		m.logger.Error("job already blocked on machine", "job_id", job.ID)
	}
}

// unblock removes a job from the blocked heap. Tolerates absent
// entries: revalidation may unblock from a subset of machines.
func (m *Machine) unblock(job *Job) {
	if !m.blocked.remove(job.ID) {
		m.logger.Debug("job was not blocked on machine", "job_id", job.ID)
	}
}
