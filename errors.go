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
	"time"

	cerrors "github.com/cirello-io/errors"
)

// Error kinds surfaced by the client. Each is a direct re-export of the
// closest cirello.io/errors.Kind so that callers can keep using
// errors.Is(dynamolock.LockLost, err) without this package minting its own
// parallel taxonomy.
//
//	Timeout     -> cerrors.Timeout      acquire exceeded its deadline
//	Unavailable -> cerrors.Unavailable  acquire exhausted its attempts
//	LockLost    -> cerrors.NotExist     caller no longer owns the lock
//	Canceled    -> cerrors.Canceled     external cancellation observed
//	AlreadyHeld -> cerrors.Exist        reentrant acquisition rejected
//	Unknown     -> cerrors.Other        write outcome indeterminate
//	Fatal       -> cerrors.Internal     not retryable, programmer/auth error
var (
	Timeout     = cerrors.Timeout
	Unavailable = cerrors.Unavailable
	LockLost    = cerrors.NotExist
	Canceled    = cerrors.Canceled
	AlreadyHeld = cerrors.Exist
	Unknown     = cerrors.Other
	Fatal       = cerrors.Internal
)

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(kind cerrors.Kind, err error) bool {
	return cerrors.Is(kind, err)
}

// E builds a new error carrying op, kind, and an underlying cause. It is a
// thin pass-through to cerrors.E kept here so callers of this package never
// need to import cirello.io/errors directly just to compare kinds.
func E(args ...interface{}) error {
	return cerrors.E(args...)
}

// ErrClientClosed reports the client cannot be used because it is already
// closed.
var ErrClientClosed = cerrors.E(cerrors.Internal, "dynamolock: client already closed")

// ErrCannotReleaseNullLock is returned by Unlock/Delete when called with a
// nil *Lock.
var ErrCannotReleaseNullLock = cerrors.E(cerrors.Invalid, "dynamolock: cannot release a nil lock")

// ErrOwnerMismatched is returned when attempting to release a lock this
// client does not own.
var ErrOwnerMismatched = cerrors.E(cerrors.Permission, "dynamolock: owner mismatch, lock owned by another client")

// ErrPayloadTooLarge is returned by AcquireLock when the supplied payload
// is larger than 400KB, DynamoDB's per-item size cap. The size of the lock's
// bookkeeping attributes is not subtracted from that bound.
var ErrPayloadTooLarge = cerrors.E(cerrors.TooLarge, "dynamolock: payload too large for a single item")

// LockNotGrantedError indicates that the lock could not be acquired,
// typically because it is already held by someone else and remains within
// its lease. It is kept as a distinguishable type (rather than folded into
// the generic Unavailable kind) since callers have historically switched on
// it directly with errors.As.
type LockNotGrantedError struct {
	msg   string
	cause error
}

func (e *LockNotGrantedError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *LockNotGrantedError) Unwrap() error { return e.cause }

// TimeoutError reports how long the client waited before giving up on
// acquiring a lock.
type TimeoutError struct{ Age time.Duration }

func (e *TimeoutError) Error() string {
	return "dynamolock: timed out waiting for lock after " + e.Age.String()
}
