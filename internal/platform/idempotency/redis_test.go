package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client)
	require.NoError(t, err)
	return store, mr
}

func TestRedisStore_ReserveCompleteReplay(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State)
	require.True(t, mr.Exists(redisKeyPrefix+"k"))

	res, err = store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStatePending, res.State)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", "11")
	err = store.Complete(ctx, "k", "fp", Response{Status: http.StatusCreated, Headers: header, Body: []byte(`{"ok":true}`)}, fixedTime, time.Hour)
	require.NoError(t, err)

	res, err = store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateCompleted, res.State)
	require.Equal(t, http.StatusCreated, res.Record.ResponseStatus)
	require.Equal(t, []byte(`{"ok":true}`), res.Record.ResponseBody)
	require.Equal(t, []string{"application/json"}, res.Record.ResponseHeaders["Content-Type"])
	require.NotContains(t, res.Record.ResponseHeaders, "Content-Length")
}

func TestRedisStore_FingerprintMismatch(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)

	_, err = store.Reserve(ctx, "k", "fp-2", fixedTime, time.Hour)
	require.True(t, errors.Is(err, ErrFingerprintMismatch))

	err = store.Complete(ctx, "k", "fp-2", Response{Status: http.StatusOK}, fixedTime, time.Hour)
	require.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRedisStore_ExpiryAndRelease(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State)

	require.NoError(t, store.Release(ctx, "k"))
	require.False(t, mr.Exists(redisKeyPrefix+"k"))

	removed, err := store.CleanupExpired(ctx, fixedTime, 10)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Reserve(context.Background(), "k", "fp", fixedTime, time.Minute)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrFingerprintMismatch))
}
