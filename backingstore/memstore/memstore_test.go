package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/dynamolock"
	"github.com/alphagov/dynamolock/backingstore/memstore"
)

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	item, err := s.PutIfAbsent(ctx, "job-1", "c1", 1000, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), item.Version)
	assert.Equal(t, "c1", item.Owner)

	_, err = s.PutIfAbsent(ctx, "job-1", "c2", 1000, nil)
	require.Error(t, err)
	assert.True(t, dynamolock.IsConflict(err))
}

func TestPutIfMatchesAtomicity(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	_, err := s.PutIfAbsent(ctx, "job-2", "c1", 1000, nil)
	require.NoError(t, err)

	// Wrong expected version must not mutate the item.
	_, err = s.PutIfMatches(ctx, "job-2", "c1", 99, "c2", 1000, nil)
	require.Error(t, err)
	assert.True(t, dynamolock.IsConflict(err))

	item, err := s.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), item.Version)
	assert.Equal(t, "c1", item.Owner)

	item, err = s.PutIfMatches(ctx, "job-2", "c1", 1, "c2", 500, []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), item.Version)
	assert.Equal(t, "c2", item.Owner)
}

func TestDeleteIfMatches(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	_, err := s.PutIfAbsent(ctx, "job-3", "c1", 1000, nil)
	require.NoError(t, err)

	err = s.DeleteIfMatches(ctx, "job-3", "c1", 2)
	require.Error(t, err)
	assert.True(t, dynamolock.IsConflict(err))

	err = s.DeleteIfMatches(ctx, "job-3", "c1", 1)
	require.NoError(t, err)

	item, err := s.Get(ctx, "job-3")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestGetAbsent(t *testing.T) {
	s := memstore.New()
	item, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestInjectFault(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	want := dynamolock.E(dynamolock.Unavailable, "injected")
	s.Inject(memstore.Fault{Method: "Get", Name: "job-4", Err: want})

	_, err := s.Get(ctx, "job-4")
	require.Error(t, err)
	assert.True(t, dynamolock.IsTransient(err))

	// The fault is consumed: the next call goes through normally.
	item, err := s.Get(ctx, "job-4")
	require.NoError(t, err)
	assert.Nil(t, item)
}
