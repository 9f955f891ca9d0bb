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
	"time"
)

// maxReleaseRetries bounds how many times a transient store error is
// retried during Unlock/Delete before giving up with Unknown.
const maxReleaseRetries = 5

// Unlock releases l, clearing its owner but leaving the item in place
// (unless the lock was acquired with WithDeleteLockOnRelease, or this call
// passes WithDeleteLock(true)). Calling Unlock on a record already Lost or
// Released is a no-op that returns success without talking to the store,
// per the release-idempotence invariant.
func (c *Client) Unlock(ctx context.Context, l *Lock, opts ...ReleaseLockOption) error {
	ro := &releaseLockOptions{}
	if l != nil {
		ro.deleteLock = l.deleteLockOnRelease
	}
	for _, opt := range opts {
		opt(ro)
	}
	return c.unlock(ctx, l, ro.deleteLock, ro.payload)
}

// Delete releases l and always removes the item, regardless of how it was
// acquired. Same idempotence guarantee as Unlock.
func (c *Client) Delete(ctx context.Context, l *Lock) error {
	return c.unlock(ctx, l, true, nil)
}

func (c *Client) unlock(ctx context.Context, l *Lock, deleteLock bool, dataAfterRelease []byte) error {
	if l == nil {
		return ErrCannotReleaseNullLock
	}
	if l.owner != c.owner {
		return ErrOwnerMismatched
	}

	// Stop the renewal engine before touching the network: this is what
	// keeps a renewal from bumping the version between our read of
	// versionSeen here and the CAS we are about to issue.
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case StateLost, StateReleased:
		c.locks.Delete(l.name)
		return nil
	}
	l.stopRenewal()

	version := l.versionNow()
	writeCtx := context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt <= maxReleaseRetries; attempt++ {
		if deleteLock {
			err = c.store.DeleteIfMatches(writeCtx, l.name, c.owner, version)
		} else {
			payload := l.Payload()
			if dataAfterRelease != nil {
				payload = dataAfterRelease
			}
			_, err = c.store.PutIfMatches(writeCtx, l.name, c.owner, version, "", l.leaseMS, payload)
		}

		if err == nil {
			l.markReleased()
			c.locks.Delete(l.name)
			return nil
		}
		if IsConflict(err) {
			// Someone else already took the lock over; releasing it is a
			// no-op from our point of view, and the renewal engine is
			// already stopped, so safety is preserved.
			l.markLost()
			c.locks.Delete(l.name)
			return nil
		}
		if IsTransient(err) {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		break
	}

	// Exhausted retries or hit a fatal error: the write's outcome is
	// indeterminate. Mark the local record Released anyway -- the
	// renewal loop is already stopped, so the client will never again
	// assert ownership under this version, which is what safety
	// actually depends on.
	l.markReleased()
	c.locks.Delete(l.name)
	return E(Unknown, err)
}
