// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freebsd/qmanager/qmanager/structs"
)

func blockedJob(id uint64, priority int, start int64) *Job {
	return &Job{JobRow: structs.JobRow{ID: id, Priority: priority, StartTime: start}}
}

func TestBlockedHeap_ordering(t *testing.T) {
	h := newBlockedHeap()

	// Lower priority first, then older start time, then lower id.
	require.True(t, h.push(blockedJob(1, 20, 300)))
	require.True(t, h.push(blockedJob(2, 5, 200)))
	require.True(t, h.push(blockedJob(3, 5, 100)))
	require.True(t, h.push(blockedJob(4, 5, 100)))

	require.Equal(t, uint64(3), h.popMin().ID)
	require.Equal(t, uint64(4), h.popMin().ID)
	require.Equal(t, uint64(2), h.popMin().ID)
	require.Equal(t, uint64(1), h.popMin().ID)
	require.Nil(t, h.popMin())
}

func TestBlockedHeap_peek(t *testing.T) {
	h := newBlockedHeap()
	require.Nil(t, h.peek())

	h.push(blockedJob(7, 10, 100))
	h.push(blockedJob(8, 1, 100))

	require.Equal(t, uint64(8), h.peek().ID)
	require.Equal(t, 2, h.Len())
}

func TestBlockedHeap_duplicatePush(t *testing.T) {
	h := newBlockedHeap()

	require.True(t, h.push(blockedJob(1, 10, 100)))
	require.False(t, h.push(blockedJob(1, 10, 100)))
	require.Equal(t, 1, h.Len())
}

func TestBlockedHeap_remove(t *testing.T) {
	h := newBlockedHeap()
	for id := uint64(1); id <= 5; id++ {
		h.push(blockedJob(id, int(id), 100))
	}

	require.True(t, h.remove(3))
	require.False(t, h.remove(3))
	require.False(t, h.contains(3))

	require.Equal(t, uint64(1), h.popMin().ID)
	require.Equal(t, uint64(2), h.popMin().ID)
	require.Equal(t, uint64(4), h.popMin().ID)
	require.Equal(t, uint64(5), h.popMin().ID)
}
