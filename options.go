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

import "time"

// acquireLockOptions is the resolved set of AcquireLockOption values for a
// single AcquireLock call.
type acquireLockOptions struct {
	lease           time.Duration
	payload         []byte
	replacePayload  bool
	failIfLocked    bool
	deleteOnRelease bool
	maxAttempts     uint32
	acquireTimeout  time.Duration
	sessionMonitor  *sessionMonitor
}

// AcquireLockOption allows changing how AcquireLock takes and holds a lock.
type AcquireLockOption func(*acquireLockOptions)

// WithLease overrides the client's default lease duration for this call.
func WithLease(d time.Duration) AcquireLockOption {
	return func(o *acquireLockOptions) { o.lease = d }
}

// WithPayload stores the given bytes into the lock on a fresh acquisition.
// On a takeover they are written only with ReplacePayload, or when the
// previous owner left no payload.
func WithPayload(b []byte) AcquireLockOption {
	return func(o *acquireLockOptions) { o.payload = b }
}

// ReplacePayload forces the payload passed via WithPayload to overwrite
// whatever was stored by the previous owner, even on a takeover. Without
// this option a takeover carries the previous owner's payload forward
// unchanged, per the resolved Open Question on payload handling; only an
// empty previous payload is replaced by the WithPayload bytes.
func ReplacePayload() AcquireLockOption {
	return func(o *acquireLockOptions) { o.replacePayload = true }
}

// FailIfLocked makes AcquireLock return immediately with
// *LockNotGrantedError on the first round that finds the lock owned by
// another client, instead of waiting out its lease. Whether that lease has
// already lapsed is not checked.
func FailIfLocked() AcquireLockOption {
	return func(o *acquireLockOptions) { o.failIfLocked = true }
}

// WithDeleteLockOnRelease marks the lock so that Close (and a bare Unlock,
// absent WithDeleteLock(false)) deletes the item instead of merely marking
// it released.
func WithDeleteLockOnRelease() AcquireLockOption {
	return func(o *acquireLockOptions) { o.deleteOnRelease = true }
}

// WithAcquireLockMaxAttempts overrides the client's default max_attempts
// for this call.
func WithAcquireLockMaxAttempts(n uint32) AcquireLockOption {
	return func(o *acquireLockOptions) { o.maxAttempts = n }
}

// WithAcquireLockTimeout overrides the client's default acquire_timeout_ms
// for this call.
func WithAcquireLockTimeout(d time.Duration) AcquireLockOption {
	return func(o *acquireLockOptions) { o.acquireTimeout = d }
}

// releaseLockOptions configures a single Unlock/Delete call.
type releaseLockOptions struct {
	deleteLock  bool
	deleteIsSet bool
	payload     []byte
}

// ReleaseLockOption configures a single Unlock/Delete call.
type ReleaseLockOption func(*releaseLockOptions)

// WithDeleteLock overrides, for this call only, whether releasing deletes
// the item (true) or merely clears its owner (false).
func WithDeleteLock(deleteLock bool) ReleaseLockOption {
	return func(o *releaseLockOptions) {
		o.deleteLock = deleteLock
		o.deleteIsSet = true
	}
}
