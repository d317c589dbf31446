/*
Copyright 2024 ECP Indexer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package wakeup lets a polling loop sleep until new work is signalled.
//
// A Notifier holds at most one outstanding wait. A signal that arrives while nobody is
// waiting is remembered, so the next Wait returns immediately instead of sleeping
// through work that was committed between the last poll and the call to Wait.
package wakeup

import (
	"context"
	"sync"
	"time"
)

// Reason tells why Wait returned.
type Reason int

const (
	Notified Reason = iota
	TimedOut
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case Notified:
		return "notified"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Notifier is a single-waiter wakeup signal. The zero value is ready to use.
type Notifier struct {
	mu      sync.Mutex
	pending bool
	waiter  chan struct{}
}

func New() *Notifier {
	return &Notifier{}
}

// Notify wakes the current waiter. With no waiter, the signal is kept for the next Wait.
// Signals do not accumulate: several Notify calls before a Wait release it once.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.waiter != nil {
		close(n.waiter)
		n.waiter = nil
		return
	}
	n.pending = true
}

// Wait blocks until Notify is called, timeout elapses or ctx is done, whichever comes
// first. Concurrent callers share the same outstanding wait.
func (n *Notifier) Wait(ctx context.Context, timeout time.Duration) Reason {
	if ctx.Err() != nil {
		return Cancelled
	}

	n.mu.Lock()
	if n.pending {
		n.pending = false
		n.mu.Unlock()
		return Notified
	}
	if n.waiter == nil {
		n.waiter = make(chan struct{})
	}
	ch := n.waiter
	n.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var reason Reason
	select {
	case <-ch:
		return Notified
	case <-timer.C:
		reason = TimedOut
	case <-ctx.Done():
		reason = Cancelled
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-ch:
		// Notify raced with the timer or cancellation
		return Notified
	default:
	}
	if n.waiter == ch {
		n.waiter = nil
	}
	return reason
}
