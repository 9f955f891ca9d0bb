package dynamolock_test

import (
	"context"
	"testing"
	"time"

	cerrors "github.com/cirello-io/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/dynamolock"
	"github.com/alphagov/dynamolock/backingstore/memstore"
)

func newTestClient(t *testing.T, store dynamolock.BackingStore, owner string, opts ...dynamolock.ClientOption) *dynamolock.Client {
	t.Helper()
	all := append([]dynamolock.ClientOption{dynamolock.WithOwnerName(owner)}, opts...)
	c, err := dynamolock.NewClient(store, all...)
	require.NoError(t, err)
	return c
}

// Cold acquire: an unowned name is granted on the first round.
func TestAcquireColdLock(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := newTestClient(t, store, "c1")

	l, err := c.AcquireLock(ctx, "job-1", dynamolock.WithLease(time.Second), dynamolock.WithPayload([]byte("hi")))
	require.NoError(t, err)
	assert.True(t, l.IsHeld())
	assert.Equal(t, "job-1", l.Name())
	assert.Equal(t, []byte("hi"), l.Payload())

	item, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), item.Version)
	assert.Equal(t, "c1", item.Owner)
}

// Reentrant acquisition by the same owner is rejected, not silently granted.
func TestAcquireAlreadyHeldBySameClient(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := newTestClient(t, store, "c1")

	l, err := c.AcquireLock(ctx, "job-2", dynamolock.WithLease(time.Second))
	require.NoError(t, err)
	defer c.Unlock(ctx, l)

	_, err = c.AcquireLock(ctx, "job-2", dynamolock.WithLease(time.Second))
	require.Error(t, err)
	assert.True(t, dynamolock.Is(dynamolock.AlreadyHeld, err))
}

// FailIfLocked returns immediately instead of waiting out the lease.
func TestAcquireFailIfLocked(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c1 := newTestClient(t, store, "c1")
	c2 := newTestClient(t, store, "c2")

	l1, err := c1.AcquireLock(ctx, "job-3", dynamolock.WithLease(10*time.Second))
	require.NoError(t, err)
	defer c1.Unlock(ctx, l1)

	start := time.Now()
	_, err = c2.AcquireLock(ctx, "job-3", dynamolock.FailIfLocked())
	elapsed := time.Since(start)
	require.Error(t, err)
	var lnge *dynamolock.LockNotGrantedError
	assert.ErrorAs(t, err, &lnge)
	assert.Less(t, elapsed, 2*time.Second)
}

// Contended acquire against a live, renewing owner exhausts max_attempts and
// surfaces Unavailable rather than blocking forever.
func TestAcquireContendedAgainstLiveOwnerExhausts(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c1 := newTestClient(t, store, "c1")
	c2 := newTestClient(t, store, "c2")

	l1, err := c1.AcquireLock(ctx, "job-4", dynamolock.WithLease(300*time.Millisecond))
	require.NoError(t, err)
	defer c1.Unlock(ctx, l1)

	_, err = c2.AcquireLock(ctx, "job-4",
		dynamolock.WithLease(300*time.Millisecond),
		dynamolock.WithAcquireLockMaxAttempts(2),
	)
	require.Error(t, err)
	assert.True(t, dynamolock.Is(dynamolock.Unavailable, err))
}

// Takeover after the owning process stops renewing: once the lease window
// the reader observed has elapsed, a new client may take the lock over.
func TestAcquireTakeoverAfterOwnerDies(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	// Seed directly, bypassing a live Client, to model a process that
	// acquired the lock and then stopped renewing it (crashed).
	_, err := store.PutIfAbsent(ctx, "job-5", "dead-owner", 200, []byte("carried"))
	require.NoError(t, err)

	c2 := newTestClient(t, store, "c2")
	start := time.Now()
	l2, err := c2.AcquireLock(ctx, "job-5", dynamolock.WithLease(time.Second))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 190*time.Millisecond)
	assert.Equal(t, []byte("carried"), l2.Payload()) // carried forward, not replaced
	require.NoError(t, c2.Unlock(ctx, l2))
}

// ReplacePayload overwrites the prior owner's payload on takeover instead of
// carrying it forward.
func TestAcquireTakeoverReplacePayload(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.PutIfAbsent(ctx, "job-6", "dead-owner", 100, []byte("old"))
	require.NoError(t, err)

	c2 := newTestClient(t, store, "c2")
	l2, err := c2.AcquireLock(ctx, "job-6", dynamolock.WithLease(time.Second), dynamolock.WithPayload([]byte("new")), dynamolock.ReplacePayload())
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), l2.Payload())
	require.NoError(t, c2.Unlock(ctx, l2))
}

// Cancellation while waiting out a lease surfaces Canceled and never issues
// a CAS write: the store is left exactly as it was.
func TestAcquireCancelMidWaitIssuesNoWrite(t *testing.T) {
	store := memstore.New()
	_, err := store.PutIfAbsent(context.Background(), "job-7", "other-owner", 5000, nil)
	require.NoError(t, err)

	c2 := newTestClient(t, store, "c2")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = c2.AcquireLock(ctx, "job-7", dynamolock.WithLease(time.Second))
	require.Error(t, err)
	assert.True(t, dynamolock.Is(dynamolock.Canceled, err))

	item, getErr := store.Get(context.Background(), "job-7")
	require.NoError(t, getErr)
	assert.Equal(t, "other-owner", item.Owner)
	assert.Equal(t, uint64(1), item.Version)
}

// Oversized payloads are rejected before any store call is made.
func TestAcquireRejectsOversizedPayload(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := newTestClient(t, store, "c1")

	big := make([]byte, 400*1024+1)
	_, err := c.AcquireLock(ctx, "job-8", dynamolock.WithPayload(big))
	require.ErrorIs(t, err, dynamolock.ErrPayloadTooLarge)

	item, getErr := store.Get(ctx, "job-8")
	require.NoError(t, getErr)
	assert.Nil(t, item)
}

// Acquiring a name immediately after a default (non-deleting) Unlock must
// not wait out the stale lease: the item exists but is unowned, so the
// acquire engine takes it over right away.
func TestAcquireImmediatelyAfterUnlockSkipsLeaseWait(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c1 := newTestClient(t, store, "c1")

	l1, err := c1.AcquireLock(ctx, "job-10", dynamolock.WithLease(10*time.Second))
	require.NoError(t, err)
	require.NoError(t, c1.Unlock(ctx, l1))

	c2 := newTestClient(t, store, "c2")
	start := time.Now()
	l2, err := c2.AcquireLock(ctx, "job-10", dynamolock.WithLease(time.Second))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, 500*time.Millisecond)
	require.NoError(t, c2.Unlock(ctx, l2))
}

// A fresh acquisition that races a conflicting writer restarts its round
// instead of failing outright.
func TestAcquireRestartsOnFreshConflict(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	// First PutIfAbsent call for job-9 fails as if another client won the
	// race; AcquireLock must re-read and retry rather than give up.
	store.Inject(memstore.Fault{Method: "PutIfAbsent", Name: "job-9", Err: dynamolock.E(cerrors.FailedPrecondition, "simulated race")})

	c := newTestClient(t, store, "c1")
	l, err := c.AcquireLock(ctx, "job-9", dynamolock.WithLease(time.Second), dynamolock.WithAcquireLockMaxAttempts(5))
	require.NoError(t, err)
	assert.True(t, l.IsHeld())
}
