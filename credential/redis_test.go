package credential

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisMediumTest(t *testing.T) (*RedisMedium, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisMedium(rdb, "as", "client-a"), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRedisMedium_RoundTrip(t *testing.T) {
	medium, mr, done := newRedisMediumTest(t)
	defer done()
	ctx := context.Background()

	_, err := medium.Get(ctx, KeyRefreshToken)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	store := NewStore(medium)
	require.NoError(t, store.Save(ctx, "access", "refresh"))

	got, err := mr.Get("as:client-a:refresh_token")
	require.NoError(t, err)
	assert.Equal(t, "refresh", got)

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists("as:client-a:access_token"))
	assert.False(t, mr.Exists("as:client-a:refresh_token"))
}

func TestRedisMedium_OutageDegradesToEmpty(t *testing.T) {
	medium, mr, done := newRedisMediumTest(t)
	defer done()
	ctx := context.Background()

	store := NewStore(medium)
	require.NoError(t, store.Save(ctx, "access", "refresh"))

	mr.Close()

	_, err := medium.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, ok := store.Access(ctx)
	assert.False(t, ok)
}
