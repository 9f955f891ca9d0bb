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

// Package dynamolock implements a distributed advisory lock client on top
// of any backing store exposing strongly consistent reads and
// compare-and-set writes. See BackingStore for the capability a store must
// provide; see the backingstore/dynamodbstore and backingstore/memstore
// subpackages for a production and a test implementation, respectively.
package dynamolock

import (
	"context"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLeaseDuration is used when no WithLease option is passed to
	// AcquireLock.
	DefaultLeaseDuration = 20 * time.Second
	// DefaultRenewFactor is K in the renewal policy: the renewal engine
	// fires every leaseDuration/K, leaving K-1 missed renewals worth of
	// safety margin before the lease actually lapses.
	DefaultRenewFactor = 3
	// DefaultMaxAttempts bounds how many takeover rounds AcquireLock will
	// run before giving up with Unavailable.
	DefaultMaxAttempts = 3
	// DefaultRetryInitial and DefaultRetryMax bound the exponential
	// backoff applied between acquisition rounds.
	DefaultRetryInitial = 50 * time.Millisecond
	DefaultRetryMax     = 2 * time.Second
)

// Client is the process-wide facade onto the lock protocol: it owns this
// process's identity, hands out *Lock handles on successful acquisition,
// and enforces local-deadline checks on every owner-facing operation. A
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	store BackingStore
	owner string

	defaultLease   time.Duration
	renewFactor    uint32
	maxAttempts    uint32
	retryInitial   time.Duration
	retryMax       time.Duration
	acquireTimeout time.Duration

	logger ContextLeveledLogger

	locks sync.Map // name -> *Lock

	mu     sync.RWMutex
	closed bool
}

// ClientOption reconfigures a Client at construction time.
type ClientOption func(*Client)

// WithOwnerName overrides the randomly generated owner identity. Useful in
// tests, where deterministic identities make assertions simpler; avoid it
// in production, where a fresh identity per process start is what lets the
// protocol tell a restarted process apart from the one it replaced.
func WithOwnerName(s string) ClientOption {
	return func(c *Client) { c.owner = s }
}

// WithLeaseDuration sets the lease length used by AcquireLock calls that do
// not pass their own WithLease option.
func WithLeaseDuration(d time.Duration) ClientOption {
	return func(c *Client) { c.defaultLease = d }
}

// WithRenewFactor sets K: the renewal engine renews every lease/K. K must
// be at least 3 so that two consecutive missed renewals still leave one
// renewal interval of safety margin; NewClient rejects smaller values.
func WithRenewFactor(k uint32) ClientOption {
	return func(c *Client) { c.renewFactor = k }
}

// WithMaxAttempts bounds the number of takeover rounds AcquireLock
// attempts before failing with Unavailable.
func WithMaxAttempts(n uint32) ClientOption {
	return func(c *Client) { c.maxAttempts = n }
}

// WithRetryBackoff sets the exponential backoff bounds applied between
// acquisition rounds.
func WithRetryBackoff(initial, max time.Duration) ClientOption {
	return func(c *Client) {
		c.retryInitial = initial
		c.retryMax = max
	}
}

// WithAcquireTimeout sets the default upper bound on total wall-clock time
// AcquireLock will spend across all of its rounds, unless overridden per
// call with WithAcquireLockTimeout.
func WithAcquireTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.acquireTimeout = d }
}

// WithLogger injects a logger into the client, so its internals can be
// recorded.
func WithLogger(l Logger) ClientOption {
	return func(c *Client) { c.logger = &plainLogger{l} }
}

// WithLeveledLogger injects a logger into the client, so its internals can
// be recorded.
func WithLeveledLogger(l LeveledLogger) ClientOption {
	return func(c *Client) { c.logger = &contextLoggerAdapter{l} }
}

// WithContextLeveledLogger injects a logger into the client, so its
// internals can be recorded with the context active at the call site.
func WithContextLeveledLogger(l ContextLeveledLogger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient constructs a Client backed by store. A fresh 128-bit owner
// identity is generated unless WithOwnerName overrides it.
func NewClient(store BackingStore, opts ...ClientOption) (*Client, error) {
	c := &Client{
		store:          store,
		owner:          uuid.NewString(),
		defaultLease:   DefaultLeaseDuration,
		renewFactor:    DefaultRenewFactor,
		maxAttempts:    DefaultMaxAttempts,
		retryInitial:   DefaultRetryInitial,
		retryMax:       DefaultRetryMax,
		acquireTimeout: 0,
		logger:         &plainLogger{logger: log.New(ioutil.Discard, "", 0)},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.renewFactor < 3 {
		return nil, E(Fatal, "dynamolock: renew factor must be at least 3, or locks might expire "+
			"before a renewal has a chance to land (recommendation is 3 or greater)")
	}
	return c, nil
}

// OwnerName returns this client's identity, as written into the owner
// attribute of every item it acquires.
func (c *Client) OwnerName() string { return c.owner }

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close releases every lock this client currently holds and stops their
// renewal engines. It is safe to call multiple times.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var first error
	c.locks.Range(func(key, value interface{}) bool {
		l := value.(*Lock)
		if err := c.unlock(ctx, l, l.deleteLockOnRelease, nil); err != nil && first == nil {
			first = err
		}
		return true
	})
	return first
}

// Inspect performs a diagnostic, strongly consistent read of name without
// attempting to acquire it. It never mutates client state and never
// returns a *Lock usable with Unlock/Delete.
func (c *Client) Inspect(ctx context.Context, name string) (*Item, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	return c.store.Get(ctx, name)
}
