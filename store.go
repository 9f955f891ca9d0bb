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

	cerrors "github.com/cirello-io/errors"
)

// Item is the backing store's view of a single lock row, corresponding to
// the remote item described in the data model: name, owner, version,
// lease duration, and payload.
type Item struct {
	Name    string
	Owner   string
	Version uint64
	LeaseMS uint64
	Payload []byte
}

// BackingStore is the capability set a conditionally-updatable key-value
// store must expose for this package to build a lock on top of it. Any
// value implementing these four methods is a valid store: there is no base
// class or required embedding, which is what lets the test suite use a
// trivial in-memory implementation (see the memstore subpackage) in place
// of a real DynamoDB table.
//
// Implementations must surface failures distinctly so the engines above can
// tell a lost race (conflict) from a blip worth retrying (transient) from a
// problem retrying cannot fix (fatal):
//
//	IsConflict(err)  -- the CAS predicate did not hold; current state, if
//	                    cheaply available, is returned alongside the error.
//	IsNotFound(err)  -- no item exists at that name.
//	IsTransient(err) -- network/throttling; safe to retry.
//	(anything else)  -- treated as fatal and never retried.
type BackingStore interface {
	// Get performs a strongly consistent read of the item named name. It
	// returns (nil, nil) if no such item exists.
	Get(ctx context.Context, name string) (*Item, error)

	// PutIfAbsent creates the item with version 1 if, and only if, no item
	// with that name currently exists.
	PutIfAbsent(ctx context.Context, name, owner string, leaseMS uint64, payload []byte) (*Item, error)

	// PutIfMatches overwrites the item if, and only if, its current
	// (owner, version) equals (expectedOwner, expectedVersion). On success
	// the stored version is expectedVersion+1.
	PutIfMatches(ctx context.Context, name, expectedOwner string, expectedVersion uint64, newOwner string, leaseMS uint64, payload []byte) (*Item, error)

	// DeleteIfMatches removes the item if, and only if, its current
	// (owner, version) equals (expectedOwner, expectedVersion).
	DeleteIfMatches(ctx context.Context, name, expectedOwner string, expectedVersion uint64) error
}

// Store-level failure kinds. Engines classify a write's outcome by testing
// the returned error against these with IsConflict/IsNotFound/IsTransient;
// anything that fails all three is fatal.
var (
	storeConflict  = cerrors.FailedPrecondition
	storeNotFound  = cerrors.NotExist
	storeTransient = cerrors.Unavailable
)

// IsConflict reports whether err represents a failed CAS predicate: the
// item's (owner, version) no longer matched what the caller expected.
func IsConflict(err error) bool { return cerrors.Is(storeConflict, err) }

// IsNotFound reports whether err represents a missing item.
func IsNotFound(err error) bool { return cerrors.Is(storeNotFound, err) }

// IsTransient reports whether err is a retryable backing-store failure
// (network blip, throttling) as opposed to a conflict or a fatal error.
func IsTransient(err error) bool { return cerrors.Is(storeTransient, err) }
