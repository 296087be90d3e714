// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/freebsd/qmanager/acl"
	"github.com/freebsd/qmanager/protocol"
	"github.com/freebsd/qmanager/qmanager/state"
	"github.com/freebsd/qmanager/qmanager/structs"
)

const (
	// sessionBuffer is the buffer size of the scheduler input queue.
	sessionBuffer = 100

	// statsPeriod is how often scheduler gauges are emitted.
	statsPeriod = 10 * time.Second
)

// aclEntry pairs a persisted ACL row with its compiled rule.
type aclEntry struct {
	row  *structs.ACLRow
	rule *acl.Rule
}

// Scheduler owns the job lifecycle. All runtime state — machines,
// jobs, blocked heaps, the catalog store — is mutated only on the
// worker goroutine, which consumes sessions from the input queue. The
// worker never blocks on client I/O: a blocking acquire parks the job
// and returns.
type Scheduler struct {
	logger hclog.Logger
	store  *state.Store

	machines map[string]*Machine
	acls     map[string]*aclEntry
	jobs     map[uint64]*Job

	sessionCh chan *Session
	stopCh    chan struct{}
	doneCh    chan struct{}

	// rnd shuffles candidate lists to avoid hot-spotting the first
	// machine. Tests seed it for determinism.
	rnd *rand.Rand

	// now returns unix seconds; replaceable in tests.
	now func() int64
}

// NewScheduler restores catalog state from the store and returns a
// scheduler ready to Run. Persisted job rows are purged: blocked jobs
// do not survive a restart, clients reconnect with fresh acquires.
func NewScheduler(store *state.Store, logger hclog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		logger:    logger.Named("scheduler"),
		store:     store,
		machines:  make(map[string]*Machine),
		acls:      make(map[string]*aclEntry),
		jobs:      make(map[uint64]*Job),
		sessionCh: make(chan *Session, sessionBuffer),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       func() int64 { return time.Now().Unix() },
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

// restore rebuilds runtime state from the catalog.
func (s *Scheduler) restore() error {
	aclRows, err := s.store.LoadACLs()
	if err != nil {
		return fmt.Errorf("failed to load acls: %w", err)
	}
	for _, row := range aclRows {
		rule, err := acl.NewRule(row.Name, row.UIDList, row.GIDList, row.Sense)
		if err != nil {
			return fmt.Errorf("failed to restore acl %q: %w", row.Name, err)
		}
		s.acls[row.Name] = &aclEntry{row: row, rule: rule}
	}

	machineRows, err := s.store.LoadMachines()
	if err != nil {
		return fmt.Errorf("failed to load machines: %w", err)
	}
	rules := s.ruleMap()
	for _, row := range machineRows {
		s.logger.Info("adding machine", "machine", row.Name)
		m, err := newMachine(row, rules, s.logger)
		if err != nil {
			return fmt.Errorf("failed to restore machine %q: %w", row.Name, err)
		}
		s.machines[row.Name] = m
	}

	purged, err := s.store.PurgeJobs()
	if err != nil {
		return err
	}
	if purged > 0 {
		s.logger.Info("purged stale jobs from catalog", "count", purged)
	}
	return nil
}

// Enqueue hands a session to the worker. The admission server is the
// only producer.
func (s *Scheduler) Enqueue(sess *Session) {
	select {
	case s.sessionCh <- sess:
	case <-s.stopCh:
		sess.finish()
	}
}

// EnqueueCancel tells the worker that the client owning sess has
// disconnected; if its job is blocked it is silently cancelled.
func (s *Scheduler) EnqueueCancel(sess *Session) {
	s.Enqueue(&Session{cancelOf: sess, done: make(chan struct{})})
}

// Run is the worker loop. One session is dequeued and fully processed
// per tick.
func (s *Scheduler) Run() {
	defer close(s.doneCh)

	stats := time.NewTicker(statsPeriod)
	defer stats.Stop()

	for {
		select {
		case sess := <-s.sessionCh:
			s.handle(sess)
		case <-stats.C:
			s.emitStats()
		case <-s.stopCh:
			return
		}
	}
}

// Stop terminates the worker and waits for it to drain.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// emitStats exports scheduler gauges.
func (s *Scheduler) emitStats() {
	running, blocked := 0, 0
	for _, job := range s.jobs {
		if job.Running {
			running++
		} else {
			blocked++
		}
	}
	online := 0
	for _, m := range s.machines {
		if m.row.Online {
			online++
		}
	}
	metrics.SetGauge([]string{"qmanager", "jobs", "running"}, float32(running))
	metrics.SetGauge([]string{"qmanager", "jobs", "blocked"}, float32(blocked))
	metrics.SetGauge([]string{"qmanager", "machines", "online"}, float32(online))
}

// ruleMap returns the compiled rules keyed by name.
func (s *Scheduler) ruleMap() map[string]*acl.Rule {
	rules := make(map[string]*acl.Rule, len(s.acls))
	for name, entry := range s.acls {
		rules[name] = entry.rule
	}
	return rules
}

// machineRows returns the catalog rows in name order, matching the
// store's iteration order.
func (s *Scheduler) machineRows() []*structs.MachineRow {
	rows := make([]*structs.MachineRow, 0, len(s.machines))
	for _, m := range s.machines {
		rows = append(rows, m.row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// suitableMachines compiles a machine description list and returns the
// shuffled, ACL-filtered candidates for a principal.
func (s *Scheduler) suitableMachines(mdl []string, uid int, gids []int) ([]*Machine, error) {
	preds, err := compileMDL(mdl)
	if err != nil {
		return nil, err
	}

	matched := matchMachines(preds, s.machineRows())
	if len(matched) == 0 {
		return nil, errNoMachines
	}

	mlist := make([]*Machine, 0, len(matched))
	for _, row := range matched {
		mlist = append(mlist, s.machines[row.Name])
	}
	// Avoid picking the first machines preferentially.
	s.rnd.Shuffle(len(mlist), func(i, j int) {
		mlist[i], mlist[j] = mlist[j], mlist[i]
	})

	valid := make([]*Machine, 0, len(mlist))
	for _, m := range mlist {
		if m.validateUser(uid, gids) {
			valid = append(valid, m)
		}
	}
	if len(valid) == 0 {
		return nil, errPermissionDenied
	}
	return valid, nil
}

// handle processes one session: one scheduler tick.
func (s *Scheduler) handle(sess *Session) {
	if sess.cancelOf != nil {
		s.handleCancel(sess)
		return
	}

	if _, known := protocol.Commands[sess.Cmd]; !known {
		s.logger.Warn("invalid command", "command", sess.Cmd)
		sess.reply(protocol.StatusInvalidCommand, nil)
		return
	}
	if err := protocol.ValidateCommand(sess.Cmd, sess.Args); err != nil {
		s.logger.Warn("bad arguments", "command", sess.Cmd, "error", err)
		sess.reply(protocol.StatusArgumentError, body(err))
		return
	}

	switch sess.Cmd {
	case "status":
		s.handleStatus(sess)
	case "try":
		s.handleAcquire(sess, false)
	case "acquire":
		s.handleAcquire(sess, true)
	case "release":
		s.handleRelease(sess)
	case "jobs":
		s.handleJobs(sess)
	case "reconnect":
		s.handleReconnect(sess)
	case "add":
		s.handleMachineAdd(sess)
	case "update":
		s.handleMachineUpdate(sess)
	case "delete":
		s.handleMachineDelete(sess)
	case "add_acl":
		s.handleACLAdd(sess)
	case "update_acl":
		s.handleACLUpdate(sess)
	case "del_acl":
		s.handleACLDelete(sess)
	}
}

// handleCancel performs the Blocked -> Terminal transition for a
// disconnected client. Nothing is written to the peer.
func (s *Scheduler) handleCancel(sess *Session) {
	target := sess.cancelOf
	job := target.job
	if job == nil || job.Running {
		// Already answered, or the job is running and survives its
		// submitter.
		target.finish()
		return
	}

	s.logger.Info("client disconnected, cancelling blocked job", "job_id", job.ID)
	job.sess = nil
	target.job = nil
	s.terminateBlocked(job)
	target.finish()
}

// terminateBlocked removes a blocked job from every heap and deletes
// its row.
func (s *Scheduler) terminateBlocked(job *Job) {
	s.unblockAll(job)
	s.deleteJob(job)
}

// unblockAll removes the job from the blocked heap of every machine it
// is parked on.
func (s *Scheduler) unblockAll(job *Job) {
	for _, name := range job.Machines {
		if m, ok := s.machines[name]; ok {
			m.unblock(job)
		}
	}
	job.Machines = nil
}

// deleteJob forgets a job: row and table entry. Job rows are purged at
// startup, so a failed delete is logged and not propagated.
func (s *Scheduler) deleteJob(job *Job) {
	if !job.pending {
		if err := s.store.DeleteJob(job.ID); err != nil {
			s.logger.Error("failed to delete job row", "job_id", job.ID, "error", err)
		}
	}
	delete(s.jobs, job.ID)
}

// machineFinish removes a finished job from the machine and promotes
// the next blocked job into the freed slot. If no blocked job can take
// the slot, the running count drops.
func (s *Scheduler) machineFinish(m *Machine, job *Job) {
	delete(m.running, job.ID)

	for {
		next := m.blocked.peek()
		if next == nil {
			m.curJobs--
			return
		}
		if s.promote(next, m) {
			return
		}
		// Stale connection; the job was cancelled, try another.
	}
}

// promote moves a blocked job into a slot on m that was freed by a
// finishing job. Returns false if the job could not be delivered to
// its client, in which case the job has been cancelled and the slot is
// still free.
func (s *Scheduler) promote(job *Job, m *Machine) bool {
	s.unblockAll(job)

	if job.sess == nil {
		s.logger.Warn("disconnected job became runnable, cancelling", "job_id", job.ID)
		s.deleteJob(job)
		return false
	}

	// The slot was handed over by the finishing job, so the running
	// count stays.
	s.runJob(job, m, false)

	sess := job.sess
	if err := sess.reply(protocol.StatusJobAllocated, allocArgs(job, m)); err != nil {
		s.logger.Warn("send failed, cancelling promoted job", "job_id", job.ID, "error", err)
		delete(m.running, job.ID)
		s.deleteJob(job)
		sess.job = nil
		job.sess = nil
		return false
	}
	sess.job = nil
	job.sess = nil
	return true
}

// runJob transitions a job to running on m and persists the change.
func (s *Scheduler) runJob(job *Job, m *Machine, incr bool) {
	job.Running = true
	job.Machines = []string{m.row.Name}
	job.StartTime = s.now()

	if err := s.store.PutJob(&job.JobRow); err != nil {
		s.logger.Error("failed to persist job", "job_id", job.ID, "error", err)
	}
	job.pending = false

	m.run(job, incr)
}

// blockOn parks a job on every candidate machine and notifies the
// held client with an intermediate 203. A send failure cancels the
// job.
func (s *Scheduler) blockOn(job *Job, mlist []*Machine) {
	names := make([]string, 0, len(mlist))
	for _, m := range mlist {
		names = append(names, m.row.Name)
	}
	job.Running = false
	job.Machines = names
	job.StartTime = s.now()

	for _, m := range mlist {
		m.block(job)
	}

	if err := s.store.PutJob(&job.JobRow); err != nil {
		s.logger.Error("failed to persist job", "job_id", job.ID, "error", err)
	}
	job.pending = false

	if job.sess == nil {
		return
	}
	if err := job.sess.send(protocol.StatusOKBlocking, map[string]interface{}{"id": int(job.ID)}); err != nil {
		s.logger.Warn("send failed, cancelling blocked job", "job_id", job.ID, "error", err)
		sess := job.sess
		job.sess = nil
		sess.job = nil
		s.terminateBlocked(job)
		sess.finish()
	}
}

// revalidateBlocked re-examines every blocked job after a machine or
// ACL mutation that could change eligibility.
func (s *Scheduler) revalidateBlocked() {
	ids := make([]uint64, 0, len(s.jobs))
	for id, job := range s.jobs {
		if !job.Running {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		job, ok := s.jobs[id]
		if !ok || job.Running {
			continue
		}
		s.runOrBlock(job, true)
	}
}

// runOrBlock recomputes a blocked job's eligible set. The job is
// promoted if a machine is now pickable, re-parked if its eligible set
// changed, and terminated with the appropriate status if it no longer
// matches anything.
func (s *Scheduler) runOrBlock(job *Job, block bool) {
	valid, err := s.suitableMachines(job.MDL, job.Owner, job.GIDs)
	if err != nil {
		code := admissionCode(err)
		s.logger.Info("blocked job no longer eligible", "job_id", job.ID, "code", code)
		if job.sess != nil {
			sess := job.sess
			job.sess = nil
			sess.job = nil
			sess.reply(code, nil)
		}
		s.terminateBlocked(job)
		return
	}

	choice := pickMachine(valid)
	if choice == nil {
		if !block {
			if job.sess != nil {
				sess := job.sess
				job.sess = nil
				sess.job = nil
				sess.reply(protocol.StatusWouldBlock, nil)
			}
			s.terminateBlocked(job)
			return
		}
		// Still blocked; re-park only if the eligible set changed.
		if !sameMachineSet(job.Machines, valid) {
			s.unblockAll(job)
			s.blockOn(job, valid)
		}
		return
	}

	s.unblockAll(job)

	if job.sess == nil {
		// Became runnable but nobody is listening.
		s.logger.Warn("disconnected job became runnable, cancelling", "job_id", job.ID)
		s.deleteJob(job)
		return
	}

	// A fresh slot is consumed here, unlike promotion into a freed
	// one.
	s.runJob(job, choice, true)

	sess := job.sess
	job.sess = nil
	sess.job = nil
	if err := sess.reply(protocol.StatusJobAllocated, allocArgs(job, choice)); err != nil {
		s.logger.Warn("send failed, cancelling job", "job_id", job.ID, "error", err)
		delete(choice.running, job.ID)
		choice.curJobs--
		s.deleteJob(job)
	}
}

// sameMachineSet compares a job's parked machine names with a
// candidate list, ignoring order.
func sameMachineSet(names []string, mlist []*Machine) bool {
	if len(names) != len(mlist) {
		return false
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, m := range mlist {
		if !have[m.row.Name] {
			return false
		}
	}
	return true
}

// allocArgs builds the 202 response arguments.
func allocArgs(job *Job, m *Machine) map[string]interface{} {
	return map[string]interface{}{
		"machine": m.row.Name,
		"id":      int(job.ID),
	}
}

// body wraps an error for the optional response body argument.
func body(err error) map[string]interface{} {
	return map[string]interface{}{"body": err.Error()}
}
