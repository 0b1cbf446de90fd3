package ratewindow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestLimiter_Allow_WithinLimit(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	l := New(redisClient, logging.New("error"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "acct-1", 3, time.Minute))
	}
}

func TestLimiter_Allow_OverLimit(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	l := New(redisClient, logging.New("error"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, "acct-1", 3, time.Minute))
	}
	assert.False(t, l.Allow(ctx, "acct-1", 3, time.Minute))
}

func TestLimiter_Allow_KeysAreSeparate(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	l := New(redisClient, logging.New("error"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "acct-1", 2, time.Minute)
	}
	assert.False(t, l.Allow(ctx, "acct-1", 2, time.Minute))
	assert.True(t, l.Allow(ctx, "acct-2", 2, time.Minute))
}

func TestLimiter_Reset(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	l := New(redisClient, logging.New("error"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "acct-1", 2, time.Minute)
	}
	require.False(t, l.Allow(ctx, "acct-1", 2, time.Minute))

	require.NoError(t, l.Reset(ctx, "acct-1"))
	assert.True(t, l.Allow(ctx, "acct-1", 2, time.Minute))
}

func TestLimiter_Allow_NilRedisFailsOpen(t *testing.T) {
	l := New(nil, logging.New("error"))
	assert.True(t, l.Allow(context.Background(), "acct-1", 1, time.Minute))
	assert.True(t, l.Allow(context.Background(), "acct-1", 1, time.Minute))
}

func TestLimiter_Allow_NilLimiterFailsOpen(t *testing.T) {
	var l *Limiter
	assert.True(t, l.Allow(context.Background(), "acct-1", 1, time.Minute))
}

func TestLimiter_Reset_NilRedisIsNoop(t *testing.T) {
	l := New(nil, logging.New("error"))
	assert.NoError(t, l.Reset(context.Background(), "acct-1"))
}

func TestWebhookKey_ScopesToAccountAndMinute(t *testing.T) {
	t1 := time.Unix(1_700_000_000, 0)
	t2 := t1.Add(30 * time.Second)
	t3 := t1.Add(90 * time.Second)

	assert.Equal(t, WebhookKey("acct-1", t1), WebhookKey("acct-1", t2))
	assert.NotEqual(t, WebhookKey("acct-1", t1), WebhookKey("acct-1", t3))
	assert.NotEqual(t, WebhookKey("acct-1", t1), WebhookKey("acct-2", t1))
}
