// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/freebsd/qmanager/acl"
	"github.com/freebsd/qmanager/protocol"
	"github.com/freebsd/qmanager/qmanager/structs"
)

var (
	errNoMachines       = errors.New("no machines match constraints")
	errPermissionDenied = errors.New("permission denied")
)

// admissionCode maps an admission failure to its wire status.
func admissionCode(err error) int {
	switch {
	case errors.Is(err, ErrBadMDL):
		return protocol.StatusBodyError
	case errors.Is(err, errNoMachines):
		return protocol.StatusNoMachines
	case errors.Is(err, errPermissionDenied):
		return protocol.StatusPermissionDenied
	default:
		return protocol.StatusArgumentError
	}
}

// argString extracts a string argument.
func argString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// argInt extracts an integer argument, accepting a base-10 string.
func argInt(args map[string]interface{}, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("argument %q must be an integer: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be an integer", key)
	}
}

// argID extracts a job id argument.
func argID(args map[string]interface{}) (uint64, error) {
	n, err := argInt(args, "id")
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("argument \"id\" must not be negative")
	}
	return uint64(n), nil
}

// argStrings extracts a string-list argument; a bare string counts as
// a single-element list.
func argStrings(args map[string]interface{}, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", key)
	}
	switch t := v.(type) {
	case []string:
		return t, nil
	case string:
		if t == "" {
			return []string{}, nil
		}
		return []string{t}, nil
	default:
		return nil, fmt.Errorf("argument %q must be a list of strings", key)
	}
}

// stringArgs flattens wire arguments into the string form the
// normalizers consume. Only the named keys are collected.
func stringArgs(args map[string]interface{}, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		v, ok := args[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			out[key] = t
		case int:
			out[key] = strconv.Itoa(t)
		case bool:
			if t {
				out[key] = "1"
			} else {
				out[key] = "0"
			}
		case []string:
			out[key] = strings.Join(t, ",")
		default:
			return nil, fmt.Errorf("argument %q has unsupported type", key)
		}
	}
	return out, nil
}

var machineArgKeys = []string{
	"name", "domain", "primarypool", "pools", "arch", "osversion",
	"numcpus", "maxjobs", "haszfs", "acl", "online",
}

var aclArgKeys = []string{"name", "uidlist", "gidlist", "sense"}

// handleAcquire services try (blockOK=false) and acquire
// (blockOK=true).
func (s *Scheduler) handleAcquire(sess *Session, blockOK bool) {
	name, err := argString(sess.Args, "name")
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	jobType, err := argString(sess.Args, "type")
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	priority, err := argInt(sess.Args, "priority")
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	mdl, err := argStrings(sess.Args, "mdl")
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	valid, err := s.suitableMachines(mdl, sess.UID, sess.GIDs)
	if err != nil {
		sess.reply(admissionCode(err), nil)
		return
	}

	choice := pickMachine(valid)
	if choice == nil && !blockOK {
		s.logger.Info("job would block", "name", name)
		sess.reply(protocol.StatusWouldBlock, nil)
		return
	}

	id, err := s.store.NextJobID()
	if err != nil {
		s.logger.Error("failed to allocate job id", "error", err)
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	job := &Job{
		JobRow: structs.JobRow{
			ID:       id,
			Name:     name,
			Type:     jobType,
			Priority: priority,
			Owner:    sess.UID,
			GIDs:     slices.Clone(sess.GIDs),
			MDL:      slices.Clone(mdl),
		},
		pending: true,
	}

	if choice != nil {
		job.Running = true
		job.Machines = []string{choice.row.Name}
		job.StartTime = s.now()
		if err := s.store.PutJob(&job.JobRow); err != nil {
			// Roll back: the job was never registered.
			s.logger.Error("failed to commit job", "job_id", id, "error", err)
			sess.reply(protocol.StatusArgumentError, body(err))
			return
		}
		job.pending = false
		s.jobs[id] = job
		choice.run(job, true)
		s.logger.Info("job allocated", "job_id", id, "name", name,
			"machine", choice.row.Name, "owner", job.Owner)
		sess.reply(protocol.StatusJobAllocated, allocArgs(job, choice))
		return
	}

	// No slot anywhere; park the job and hold the connection open.
	s.jobs[id] = job
	job.sess = sess
	sess.job = job
	s.logger.Info("job blocked", "job_id", id, "name", name,
		"priority", priority, "owner", job.Owner)
	s.blockOn(job, valid)
}

// handleRelease frees the slot held by a running job and promotes the
// next blocked job on that machine.
func (s *Scheduler) handleRelease(sess *Session) {
	id, err := argID(sess.Args)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	job, ok := s.jobs[id]
	if !ok {
		sess.reply(protocol.StatusNoSuchJob, nil)
		return
	}
	if !job.Running {
		sess.reply(protocol.StatusJobNotRunning, nil)
		return
	}

	m := s.machines[job.Machines[0]]
	s.deleteJob(job)
	s.machineFinish(m, job)
	s.logger.Info("job released", "job_id", id, "machine", m.row.Name)
	sess.reply(protocol.StatusOK, nil)
}

// handleReconnect reattaches a session to a blocked job whose previous
// session was dropped, then revalidates it.
func (s *Scheduler) handleReconnect(sess *Session) {
	id, err := argID(sess.Args)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	job, ok := s.jobs[id]
	if !ok {
		sess.reply(protocol.StatusNoSuchJob, nil)
		return
	}
	if job.Running {
		sess.reply(protocol.StatusJobRunning, nil)
		return
	}
	if job.sess != nil {
		sess.reply(protocol.StatusJobConnected, nil)
		return
	}

	job.sess = sess
	sess.job = job
	s.logger.Info("job reconnected", "job_id", id)

	if err := sess.send(protocol.StatusOKBlocking, map[string]interface{}{"id": int(id)}); err != nil {
		s.logger.Warn("send failed on reconnect", "job_id", id, "error", err)
		job.sess = nil
		sess.job = nil
		sess.finish()
		return
	}

	// The job may have become runnable while disconnected.
	s.runOrBlock(job, true)
}

// handleJobs reports the job table.
func (s *Scheduler) handleJobs(sess *Session) {
	ids := make([]uint64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		job := s.jobs[id]
		st := "blocked"
		if job.Running {
			st = "running"
		}
		lines = append(lines, fmt.Sprintf("%d\t%s\t%s\t%d\t%d\t%s\t%d\t%s",
			job.ID, job.Name, job.Type, job.Priority, job.Owner,
			st, job.StartTime, strings.Join(job.Machines, ",")))
	}
	sess.reply(protocol.StatusOK, map[string]interface{}{"jobs": lines})
}

// handleStatus reports the machines matching a machine description
// list with their current load.
func (s *Scheduler) handleStatus(sess *Session) {
	mdl, err := argStrings(sess.Args, "mdl")
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	preds, err := compileMDL(mdl)
	if err != nil {
		sess.reply(protocol.StatusBodyError, body(err))
		return
	}

	matched := matchMachines(preds, s.machineRows())
	lines := make([]string, 0, len(matched))
	for _, row := range matched {
		m := s.machines[row.Name]
		lines = append(lines, fmt.Sprintf("%s\t%v\t%d/%d\t%s\t%d\t%d\t%v\t%s\t%s\t%s",
			row.Name, row.Online, m.curJobs, row.MaxJobs, row.Arch,
			row.OSVersion, row.NumCPUs, row.HasZFS, row.Domain,
			row.PrimaryPool, strings.Join(row.Pools, ",")))
	}
	sess.reply(protocol.StatusOK, map[string]interface{}{"machines": lines})
}

// handleMachineAdd creates a machine.
func (s *Scheduler) handleMachineAdd(sess *Session) {
	vars, err := stringArgs(sess.Args, machineArgKeys)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	fields, err := structs.NormalizeMachine(vars)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	name := fields["name"].(string)
	if _, exists := s.machines[name]; exists {
		sess.reply(protocol.StatusExists, map[string]interface{}{"name": name})
		return
	}

	row := &structs.MachineRow{}
	structs.ApplyMachine(row, fields)

	m, err := newMachine(row, s.ruleMap(), s.logger)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	if err := s.store.PutMachine(row); err != nil {
		s.logger.Error("failed to commit machine", "machine", name, "error", err)
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	s.machines[name] = m
	s.logger.Info("machine added", "machine", name)

	// The new machine may unblock parked jobs.
	s.revalidateBlocked()
	sess.reply(protocol.StatusOK, nil)
}

// handleMachineUpdate mutates machine properties and revalidates
// blocked jobs, since any property change can affect eligibility.
func (s *Scheduler) handleMachineUpdate(sess *Session) {
	vars, err := stringArgs(sess.Args, machineArgKeys)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	fields, err := structs.NormalizeMachine(vars)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	name := fields["name"].(string)
	m, ok := s.machines[name]
	if !ok {
		sess.reply(protocol.StatusArgumentError, body(fmt.Errorf("no such machine %q", name)))
		return
	}

	delete(fields, "name")
	if len(fields) == 0 {
		// Nothing to change.
		sess.reply(protocol.StatusOK, nil)
		return
	}

	if aclNames, ok := fields["acl"].([]string); ok {
		for _, aclName := range aclNames {
			if _, exists := s.acls[aclName]; !exists {
				sess.reply(protocol.StatusArgumentError,
					body(fmt.Errorf("no such acl %q", aclName)))
				return
			}
		}
	}

	newRow := m.row.Copy()
	structs.ApplyMachine(newRow, fields)

	if err := s.store.PutMachine(newRow); err != nil {
		// Roll back: the in-memory row keeps its old values.
		s.logger.Error("failed to commit machine", "machine", name, "error", err)
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	aclChanged := !slices.Equal(m.row.ACL, newRow.ACL)
	m.row = newRow
	if aclChanged {
		m.compileACL(s.ruleMap())
	} else {
		m.clearValidated()
	}
	s.logger.Info("machine updated", "machine", name)

	s.revalidateBlocked()
	sess.reply(protocol.StatusOK, nil)
}

// handleMachineDelete removes a machine. Rejected while the machine
// has running or blocked jobs.
func (s *Scheduler) handleMachineDelete(sess *Session) {
	name, err := argString(sess.Args, "name")
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	name = strings.ToLower(name)

	m, ok := s.machines[name]
	if !ok {
		sess.reply(protocol.StatusArgumentError, body(fmt.Errorf("no such machine %q", name)))
		return
	}
	if len(m.running) > 0 || m.blocked.Len() > 0 {
		sess.reply(protocol.StatusJobRunning,
			body(fmt.Errorf("machine %q has running or blocked jobs", name)))
		return
	}

	if err := s.store.DeleteMachine(name); err != nil {
		s.logger.Error("failed to delete machine", "machine", name, "error", err)
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	delete(s.machines, name)
	s.logger.Info("machine deleted", "machine", name)
	sess.reply(protocol.StatusOK, nil)
}

// handleACLAdd creates an ACL rule.
func (s *Scheduler) handleACLAdd(sess *Session) {
	vars, err := stringArgs(sess.Args, aclArgKeys)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	fields, err := structs.NormalizeACL(vars)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	name := fields["name"].(string)
	if _, exists := s.acls[name]; exists {
		sess.reply(protocol.StatusExists, map[string]interface{}{"name": name})
		return
	}

	row := &structs.ACLRow{}
	structs.ApplyACL(row, fields)

	rule, err := aclRule(row)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	if err := s.store.PutACL(row); err != nil {
		s.logger.Error("failed to commit acl", "acl", name, "error", err)
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	s.acls[name] = &aclEntry{row: row, rule: rule}
	s.logger.Info("acl added", "acl", name)
	sess.reply(protocol.StatusOK, nil)
}

// handleACLUpdate mutates an ACL rule. Machines referencing the rule
// have their compiled ACLs and validation caches rebuilt, and blocked
// jobs are revalidated.
func (s *Scheduler) handleACLUpdate(sess *Session) {
	vars, err := stringArgs(sess.Args, aclArgKeys)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	fields, err := structs.NormalizeACL(vars)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	name := fields["name"].(string)
	entry, ok := s.acls[name]
	if !ok {
		sess.reply(protocol.StatusArgumentError, body(fmt.Errorf("no such acl %q", name)))
		return
	}

	newRow := entry.row.Copy()
	structs.ApplyACL(newRow, fields)

	rule, err := aclRule(newRow)
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	if err := s.store.PutACL(newRow); err != nil {
		s.logger.Error("failed to commit acl", "acl", name, "error", err)
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	entry.row = newRow
	entry.rule = rule

	rules := s.ruleMap()
	for _, m := range s.machines {
		if slices.Contains(m.row.ACL, name) {
			m.compileACL(rules)
		}
	}
	s.logger.Info("acl updated", "acl", name)

	s.revalidateBlocked()
	sess.reply(protocol.StatusOK, nil)
}

// handleACLDelete removes an ACL rule. Rejected while any machine
// references it.
func (s *Scheduler) handleACLDelete(sess *Session) {
	name, err := argString(sess.Args, "name")
	if err != nil {
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}
	name = strings.ToLower(name)

	if _, ok := s.acls[name]; !ok {
		sess.reply(protocol.StatusArgumentError, body(fmt.Errorf("no such acl %q", name)))
		return
	}
	for _, m := range s.machines {
		if slices.Contains(m.row.ACL, name) {
			sess.reply(protocol.StatusArgumentError,
				body(fmt.Errorf("acl %q is in use by machine %q", name, m.row.Name)))
			return
		}
	}

	if err := s.store.DeleteACL(name); err != nil {
		s.logger.Error("failed to delete acl", "acl", name, "error", err)
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	delete(s.acls, name)
	s.logger.Info("acl deleted", "acl", name)
	sess.reply(protocol.StatusOK, nil)
}

// aclRule compiles a catalog row into an evaluable rule.
func aclRule(row *structs.ACLRow) (*acl.Rule, error) {
	return acl.NewRule(row.Name, row.UIDList, row.GIDList, row.Sense)
}
