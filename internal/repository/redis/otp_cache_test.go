package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackychef/auth-service/internal/client"
)

func testCache(t *testing.T) (*OTPAttemptCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := &client.RedisClient{
		Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
	}
	return NewOTPAttemptCache(rc), mr
}

func TestIncrementAttempts(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		got, err := cache.IncrementAttempts(ctx, "user-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAttemptsIsolatedPerUser(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	_, err := cache.IncrementAttempts(ctx, "user-1", time.Minute)
	require.NoError(t, err)

	got, err := cache.IncrementAttempts(ctx, "user-2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestResetAttempts(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	_, err := cache.IncrementAttempts(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	_, err = cache.IncrementAttempts(ctx, "user-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, cache.ResetAttempts(ctx, "user-1"))

	got, err := cache.IncrementAttempts(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestAttemptsExpire(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()

	_, err := cache.IncrementAttempts(ctx, "user-1", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	got, err := cache.IncrementAttempts(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}
