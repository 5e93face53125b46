// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package queue bounds the number of concurrently-running session
// supervisors to N slots, grounded on the teacher's manager-with-mutex-map
// shape (internal/worktree/manager.go) with the concurrency bound itself
// delegated to golang.org/x/sync/semaphore rather than a hand-rolled
// counting channel.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Queue admits at most N concurrent slots. A slot is released at the
// earlier of a session's first transition to awaiting_input or its
// process exiting — per §4.8, holding it any longer would drain the pool
// on long-idle sessions.
type Queue struct {
	sem *semaphore.Weighted
	n   int64

	mu     sync.Mutex
	active map[string]struct{}
}

// New constructs a Queue bounded to n concurrent slots.
func New(n int64) *Queue {
	if n <= 0 {
		n = 1
	}
	return &Queue{sem: semaphore.NewWeighted(n), n: n, active: make(map[string]struct{})}
}

// Capacity returns the configured slot count.
func (q *Queue) Capacity() int64 { return q.n }

// InUse returns the number of slots currently held.
func (q *Queue) InUse() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// IsHeld reports whether sessionID currently holds a slot, letting a
// re-delivered queue job recognize its session is already running under
// this worker and no-op instead of spawning a second supervisor.
func (q *Queue) IsHeld(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.active[sessionID]
	return ok
}

// Acquire blocks until a slot is free or ctx is cancelled. The returned
// Slot's Release must be called exactly once; calling it more than once is
// a safe no-op.
func (q *Queue) Acquire(ctx context.Context, sessionID string) (*Slot, error) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.active[sessionID] = struct{}{}
	q.mu.Unlock()
	return &Slot{q: q, sessionID: sessionID}, nil
}

// Slot is the scheduling token a supervisor holds from claim until its
// release future resolves.
type Slot struct {
	q         *Queue
	sessionID string
	released  int32
}

// Release frees the slot. Idempotent: only the first call has any effect.
func (s *Slot) Release() {
	if !atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		return
	}
	s.q.mu.Lock()
	delete(s.q.active, s.sessionID)
	s.q.mu.Unlock()
	s.q.sem.Release(1)
}
