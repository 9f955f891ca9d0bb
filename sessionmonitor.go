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

// sessionMonitor lets a caller learn that a held lock is about to cross
// into its "danger zone" -- close enough to localDeadline that a renewal
// miss would be unrecoverable -- before it actually expires. This supports
// leader-election-style patterns where a process wants to step down
// voluntarily rather than risk two simultaneous leaders.
type sessionMonitor struct {
	safeTime time.Duration
	callback func()
}

// WithSessionMonitor registers a callback invoked, at most once, when the
// lock enters its danger zone: the window of safeTime immediately before
// localDeadline. The callback runs regardless of whether the renewal engine
// keeps extending the deadline afterwards -- once fired, it never fires
// again for this *Lock.
func WithSessionMonitor(safeTime time.Duration, callback func()) AcquireLockOption {
	return func(opt *acquireLockOptions) {
		opt.sessionMonitor = &sessionMonitor{safeTime: safeTime, callback: callback}
	}
}

// timeUntilDangerZone reports how long until the lock enters its danger
// zone, or a non-positive duration if it already has.
func (l *Lock) timeUntilDangerZone() time.Duration {
	deadline := l.localDeadlineTime()
	return time.Until(deadline.Add(-l.sessionMonitor.safeTime))
}

// watchSessionMonitor polls until the lock enters its danger zone, is lost,
// or is released. The callback fires once, and only if the danger zone is
// reached first; loss or release ends the watch without firing it.
func watchSessionMonitor(ctx context.Context, l *Lock) {
	if l.sessionMonitor == nil || l.sessionMonitor.callback == nil {
		return
	}
	const pollFloor = 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.renewalDone:
			return
		default:
		}
		wait := l.timeUntilDangerZone()
		if wait <= 0 {
			go l.sessionMonitor.callback()
			return
		}
		if wait > pollFloor {
			wait = pollFloor
		}
		select {
		case <-ctx.Done():
			return
		case <-l.renewalDone:
			return
		case <-time.After(wait):
		}
	}
}
