package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStore_FirstWriterWins(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	first, err := store.Reserve(ctx, "waybill:create:ord_1", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, first.State)

	second, err := store.Reserve(ctx, "waybill:create:ord_1", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, second.State)

	_, err = store.Reserve(ctx, "waybill:create:ord_1", "other", fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRedisStore_SaveAndReplay(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.SaveResponse(ctx, "k", "fp", Response{
		Status:  http.StatusCreated,
		Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"x"}},
		Body:    []byte(`{"ok":true}`),
	}, fixedTime, time.Hour))

	res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, `{"ok":true}`, string(res.Record.ResponseBody))
	assert.Equal(t, []string{"application/json"}, res.Record.ResponseHeaders["Content-Type"])
	assert.NotContains(t, res.Record.ResponseHeaders, "Date")

	mr.FastForward(2 * time.Hour)
	res, err = store.Reserve(ctx, "k", "fp", fixedTime.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}

func TestRedisStore_ReleaseOnlyPending(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "k", "fp"))

	res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	require.NoError(t, store.SaveResponse(ctx, "k", "fp", Response{Status: 200}, fixedTime, time.Hour))
	require.NoError(t, store.Release(ctx, "k", "fp"))
	res, err = store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
}
