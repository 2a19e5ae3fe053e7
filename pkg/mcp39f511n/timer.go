// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import "time"

// replyTimer tracks the deadline of one transaction.
//
// It starts with the overall timeout. The first time bytes arrive the
// deadline shrinks to now+settle, and it is never extended afterwards.
type replyTimer struct {
	deadline time.Time
	settle   time.Duration
	settled  bool
	now      func() time.Time
}

func newReplyTimer(now func() time.Time, timeout, settle time.Duration) *replyTimer {
	return &replyTimer{
		deadline: now().Add(timeout),
		settle:   settle,
		now:      now,
	}
}

// bytesArrived moves the timer into the settle phase
func (t *replyTimer) bytesArrived() {
	if t.settled {
		return
	}
	t.settled = true
	if d := t.now().Add(t.settle); d.Before(t.deadline) {
		t.deadline = d
	}
}

// remaining returns the time left before the deadline (zero if passed)
func (t *replyTimer) remaining() time.Duration {
	r := t.deadline.Sub(t.now())
	if r < 0 {
		return 0
	}
	return r
}

func (t *replyTimer) expired() bool {
	return !t.now().Before(t.deadline)
}
