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

// startRenewalEngine launches the background task that keeps l's lease
// fresh. It is started once, at acquisition time, and torn down by
// l.cancelRenew (invoked by markLost, and by markReleased via
// l.stopRenewal) -- teardown is
// deterministic and tied to the record's own lifecycle rather than to any
// client-wide loop.
func (c *Client) startRenewalEngine(l *Lock) {
	ctx, cancel := context.WithCancel(context.Background())
	l.setCancelRenew(cancel)
	go c.renewalLoop(ctx, l)
	if l.sessionMonitor != nil {
		go watchSessionMonitor(ctx, l)
	}
}

// renewalLoop renews l every lease/K, per the renewal policy. It is purely
// an optimization: IsHeld never trusts it to have run and instead checks
// localDeadline directly, so a stalled or killed renewal loop degrades
// safely into the lock simply expiring on schedule.
func (c *Client) renewalLoop(ctx context.Context, l *Lock) {
	interval := time.Duration(l.leaseMS) * time.Millisecond / time.Duration(c.renewFactor)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.renewOnce(ctx, l, interval)
			if l.State() != StateHeld {
				return
			}
		}
	}
}

// renewOnce issues one renewal attempt, retrying transient failures with
// short backoff as long as there is still a renewal interval's worth of
// safety margin before localDeadline. A conflict means the lock was stolen
// or released-and-retaken elsewhere and is never retried: the record is
// marked Lost immediately. Renewal and Release are serialized against each
// other through l.mu so a renewal never overlaps an unlock.
func (c *Client) renewOnce(ctx context.Context, l *Lock, safetyMargin time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() != StateHeld {
		return
	}

	backoff := 20 * time.Millisecond
	for {
		issuedAt := time.Now()
		writeCtx := context.WithoutCancel(ctx)
		item, err := c.store.PutIfMatches(writeCtx, l.name, l.owner, l.versionNow(), l.owner, l.leaseMS, l.Payload())
		if err == nil {
			l.renewSucceeded(issuedAt, item.Version)
			return
		}
		if IsConflict(err) {
			c.logger.Error(ctx, "dynamolock: renewal conflict for ", l.name, ": ", err)
			l.markLost()
			return
		}
		if IsTransient(err) && time.Until(l.localDeadlineTime()) > safetyMargin {
			c.logger.Error(ctx, "dynamolock: transient renewal error for ", l.name, ", retrying: ", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > safetyMargin {
				backoff = safetyMargin
			}
			continue
		}
		c.logger.Error(ctx, "dynamolock: renewal failed for ", l.name, ": ", err)
		l.markLost()
		return
	}
}

// SendHeartbeat issues a single out-of-band renewal, alongside the
// automatic renewal engine, useful when a caller wants to force an
// immediate refresh ahead of doing latency-sensitive work under the lock.
func (c *Client) SendHeartbeat(ctx context.Context, l *Lock) error {
	if !l.IsHeld() {
		return E(LockLost, "dynamolock: cannot heartbeat a lock that is not held")
	}
	interval := time.Duration(l.leaseMS) * time.Millisecond / time.Duration(c.renewFactor)
	c.renewOnce(ctx, l, interval)
	if !l.IsHeld() {
		return E(LockLost, "dynamolock: lock was lost during heartbeat")
	}
	return nil
}
