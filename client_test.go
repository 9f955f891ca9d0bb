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

func TestNewClientRejectsLowRenewFactor(t *testing.T) {
	_, err := dynamolock.NewClient(memstore.New(), dynamolock.WithRenewFactor(2))
	require.Error(t, err)
	assert.True(t, dynamolock.Is(dynamolock.Fatal, err))
}

func TestNewClientDefaultOwnerIsUnique(t *testing.T) {
	c1, err := dynamolock.NewClient(memstore.New())
	require.NoError(t, err)
	c2, err := dynamolock.NewClient(memstore.New())
	require.NoError(t, err)
	assert.NotEmpty(t, c1.OwnerName())
	assert.NotEqual(t, c1.OwnerName(), c2.OwnerName())
}

func TestClientCloseReleasesHeldLocks(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c, err := dynamolock.NewClient(store, dynamolock.WithOwnerName("c1"))
	require.NoError(t, err)

	_, err = c.AcquireLock(ctx, "job-close", dynamolock.WithLease(time.Second))
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx)) // idempotent

	item, err := store.Get(ctx, "job-close")
	require.NoError(t, err)
	assert.Equal(t, "", item.Owner)

	_, err = c.AcquireLock(ctx, "job-close")
	require.ErrorIs(t, err, dynamolock.ErrClientClosed)
}

func TestInspectDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c, err := dynamolock.NewClient(store, dynamolock.WithOwnerName("c1"))
	require.NoError(t, err)

	item, err := c.Inspect(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, item)

	l, err := c.AcquireLock(ctx, "job-inspect", dynamolock.WithLease(time.Second))
	require.NoError(t, err)
	defer c.Unlock(ctx, l)

	item, err = c.Inspect(ctx, "job-inspect")
	require.NoError(t, err)
	assert.Equal(t, "c1", item.Owner)
}
