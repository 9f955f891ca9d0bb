package dynamolock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/dynamolock"
	"github.com/alphagov/dynamolock/backingstore/memstore"
)

// Automatic renewal keeps a lock held well past its original lease, proving
// the background renewal engine is actually advancing the version.
func TestRenewalKeepsLockAliveAcrossLease(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := newTestClient(t, store, "c1", dynamolock.WithRenewFactor(4))

	l, err := c.AcquireLock(ctx, "job-renew-1", dynamolock.WithLease(120*time.Millisecond))
	require.NoError(t, err)
	defer c.Unlock(ctx, l)

	time.Sleep(400 * time.Millisecond)
	assert.True(t, l.IsHeld())

	item, err := store.Get(ctx, "job-renew-1")
	require.NoError(t, err)
	assert.Greater(t, item.Version, uint64(1))
}

// When a renewal's CAS loses to a conflicting write (another client took
// over), the lock is marked Lost immediately, with no retry.
func TestRenewalConflictMarksLockLost(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c1 := newTestClient(t, store, "c1", dynamolock.WithRenewFactor(4))

	l1, err := c1.AcquireLock(ctx, "job-renew-2", dynamolock.WithLease(120*time.Millisecond))
	require.NoError(t, err)

	// Simulate a second client stealing the lock out from under c1 after
	// the lease the first reader observed has elapsed.
	time.Sleep(150 * time.Millisecond)
	item, err := store.Get(ctx, "job-renew-2")
	require.NoError(t, err)
	_, err = store.PutIfMatches(ctx, "job-renew-2", item.Owner, item.Version, "c2", 120, nil)
	require.NoError(t, err)

	select {
	case <-l1.Lost():
	case <-time.After(time.Second):
		t.Fatal("lock was never marked lost after a losing renewal")
	}
	assert.Equal(t, dynamolock.StateLost, l1.State())
	assert.False(t, l1.IsHeld())

	// Unlock after loss must be a no-op that does not disturb the new
	// owner's row.
	require.NoError(t, c1.Unlock(ctx, l1))
	after, err := store.Get(ctx, "job-renew-2")
	require.NoError(t, err)
	assert.Equal(t, "c2", after.Owner)
}

// A transient renewal error is retried as long as there's still safety
// margin before the local deadline; the lock survives the blip.
func TestRenewalRetriesTransientError(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := newTestClient(t, store, "c1", dynamolock.WithRenewFactor(4))

	l, err := c.AcquireLock(ctx, "job-renew-3", dynamolock.WithLease(400*time.Millisecond))
	require.NoError(t, err)
	defer c.Unlock(ctx, l)

	store.Inject(memstore.Fault{Method: "PutIfMatches", Name: "job-renew-3", Err: dynamolock.E(dynamolock.Unavailable, "blip")})

	time.Sleep(300 * time.Millisecond)
	assert.True(t, l.IsHeld())
}

// SendHeartbeat forces a single renewal and reports LockLost for a record
// that is no longer held.
func TestSendHeartbeatOnLostLock(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := newTestClient(t, store, "c1")

	l, err := c.AcquireLock(ctx, "job-renew-4", dynamolock.WithLease(time.Second))
	require.NoError(t, err)

	_, err = store.PutIfMatches(ctx, "job-renew-4", "c1", 1, "c2", 1000, nil)
	require.NoError(t, err)

	err = c.SendHeartbeat(ctx, l)
	require.Error(t, err)
	assert.True(t, dynamolock.Is(dynamolock.LockLost, err))
}
