// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"container/heap"
)

// blockedHeap is a min-heap of blocked jobs ordered by (priority,
// starttime, id). The id tiebreaker makes promotion order fully
// deterministic. Priority and StartTime are immutable while a job is
// on a heap.
type blockedHeap struct {
	entries []*Job
}

func newBlockedHeap() *blockedHeap {
	return &blockedHeap{}
}

func (h *blockedHeap) Len() int { return len(h.entries) }

func (h *blockedHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.StartTime != b.StartTime {
		return a.StartTime < b.StartTime
	}
	return a.ID < b.ID
}

func (h *blockedHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

func (h *blockedHeap) Push(x interface{}) {
	h.entries = append(h.entries, x.(*Job))
}

func (h *blockedHeap) Pop() interface{} {
	n := len(h.entries)
	job := h.entries[n-1]
	h.entries[n-1] = nil
	h.entries = h.entries[:n-1]
	return job
}

// contains reports whether a job id is on the heap.
func (h *blockedHeap) contains(id uint64) bool {
	for _, j := range h.entries {
		if j.ID == id {
			return true
		}
	}
	return false
}

// push adds a job, refusing duplicates.
func (h *blockedHeap) push(job *Job) bool {
	if h.contains(job.ID) {
		return false
	}
	heap.Push(h, job)
	return true
}

// remove takes a job off the heap by id, restoring the heap invariant.
// Returns false if the job was not present. O(n) scan; acceptable for
// a moderate fleet.
func (h *blockedHeap) remove(id uint64) bool {
	for i, j := range h.entries {
		if j.ID == id {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}

// peek returns the minimum entry without removing it.
func (h *blockedHeap) peek() *Job {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0]
}

// popMin removes and returns the minimum entry.
func (h *blockedHeap) popMin() *Job {
	if len(h.entries) == 0 {
		return nil
	}
	return heap.Pop(h).(*Job)
}
