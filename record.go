/*
Copyright 2021 U. Cirello (cirello.io and github.com/cirello-io)

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

package dynamolock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LockState is the current position of a Lock Record in its lifecycle.
// Acquiring is transient and never observable outside AcquireLock; Lost and
// Released are terminal and are never revived -- a subsequent AcquireLock
// call always produces a brand new *Lock.
type LockState int32

const (
	// StateAcquiring is set only while AcquireLock is still contending;
	// callers never observe a *Lock in this state.
	StateAcquiring LockState = iota
	// StateHeld means the client believes it owns the lock, subject to
	// localDeadline still being in the future.
	StateHeld
	// StateLost means the renewal engine detected a conflict, a fatal
	// store error, or ran out of safety margin against localDeadline.
	StateLost
	// StateReleased means Unlock or Delete completed successfully.
	StateReleased
)

func (s LockState) String() string {
	switch s {
	case StateAcquiring:
		return "Acquiring"
	case StateHeld:
		return "Held"
	case StateLost:
		return "Lost"
	case StateReleased:
		return "Released"
	default:
		return "Unknown"
	}
}

// Lock is a handle to a lock this client believes it owns (or once owned).
// Its read-only accessors (IsHeld, Payload, Name) are safe to call from any
// goroutine; mutation is confined to the renewal and release engines under
// mu, per the spec's "Client Facade owns the record; the Renewal Engine
// borrows it for mutation" ownership discipline.
type Lock struct {
	client *Client

	mu sync.Mutex

	name    string
	owner   string
	leaseMS uint64

	state         atomic.Int32
	versionSeen   atomic.Uint64
	localDeadline atomic.Int64 // UnixNano

	payload             atomic.Pointer[[]byte]
	deleteLockOnRelease bool

	sessionMonitor *sessionMonitor

	cancelRenew context.CancelFunc
	renewalDone chan struct{}

	lostOnce sync.Once
}

func newLock(c *Client, name, owner string, leaseMS uint64, version uint64, deadline time.Time, payload []byte, deleteOnRelease bool, sm *sessionMonitor) *Lock {
	l := &Lock{
		client:              c,
		name:                name,
		owner:               owner,
		leaseMS:             leaseMS,
		deleteLockOnRelease: deleteOnRelease,
		sessionMonitor:      sm,
		renewalDone:         make(chan struct{}),
	}
	l.state.Store(int32(StateHeld))
	l.versionSeen.Store(version)
	l.localDeadline.Store(deadline.UnixNano())
	p := append([]byte(nil), payload...)
	l.payload.Store(&p)
	return l
}

// Name returns the partition key this lock was acquired under.
func (l *Lock) Name() string { return l.name }

// State returns the current LockState.
func (l *Lock) State() LockState { return LockState(l.state.Load()) }

// IsHeld reports whether this client still believes it owns the lock: the
// state is Held AND the local deadline has not yet passed. This is the
// safety check of the spec -- every owner-facing operation must call the
// equivalent of this before acting, because the renewal engine is an
// optimization and correctness never depends on it having run.
func (l *Lock) IsHeld() bool {
	if LockState(l.state.Load()) != StateHeld {
		return false
	}
	if time.Now().UnixNano() >= l.localDeadline.Load() {
		l.markLost()
		return false
	}
	return true
}

// Payload returns the bytes currently associated with the lock.
func (l *Lock) Payload() []byte {
	p := l.payload.Load()
	if p == nil {
		return nil
	}
	return append([]byte(nil), (*p)...)
}

func (l *Lock) versionNow() uint64 { return l.versionSeen.Load() }

func (l *Lock) localDeadlineTime() time.Time { return time.Unix(0, l.localDeadline.Load()) }

// markLost transitions the record to Lost exactly once, stopping its
// renewal goroutine and closing its completion signal so anyone blocked
// waiting on the lock (e.g. a session monitor) unblocks.
func (l *Lock) markLost() {
	l.lostOnce.Do(func() {
		l.state.Store(int32(StateLost))
		if l.cancelRenew != nil {
			l.cancelRenew()
		}
		close(l.renewalDone)
	})
}

// Lost returns a channel that is closed the moment this record transitions
// to Lost. It never fires for a record that is cleanly Released.
func (l *Lock) Lost() <-chan struct{} { return l.renewalDone }

// markReleased transitions the record to Released. Unlike markLost it does
// not close renewalDone: a cleanly released lock was not lost, and nothing
// should be told otherwise.
func (l *Lock) markReleased() {
	l.state.Store(int32(StateReleased))
	l.stopRenewal()
}

func (l *Lock) setCancelRenew(cancel context.CancelFunc) {
	l.mu.Lock()
	l.cancelRenew = cancel
	l.mu.Unlock()
}

// stopRenewal cancels the renewal goroutine. Callers must already hold l.mu.
func (l *Lock) stopRenewal() {
	if l.cancelRenew != nil {
		l.cancelRenew()
	}
}

// renewSucceeded records a successful renewal: version advances by exactly
// one and the local deadline is extended leaseMS from the instant the
// renewal write was issued, per the "renewal preserves state" invariant.
func (l *Lock) renewSucceeded(issuedAt time.Time, newVersion uint64) {
	l.versionSeen.Store(newVersion)
	l.localDeadline.Store(issuedAt.Add(time.Duration(l.leaseMS) * time.Millisecond).UnixNano())
}
