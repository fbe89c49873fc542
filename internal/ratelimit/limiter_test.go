package ratelimit

import (
	"context"
	"testing"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLimiterDisabledWithoutRedisFailsOpen(t *testing.T) {
	limiter := NewLimiter(config.Config{}, zap.NewNop())

	assert.False(t, limiter.Enabled())
	assert.True(t, limiter.AllowCharge(context.Background(), 42).Allowed)
	assert.True(t, limiter.AllowPoll(context.Background(), 42).Allowed)
}

func TestLimiterUnreachableRedisFailsOpen(t *testing.T) {
	cfg := config.Config{RedisAddr: "127.0.0.1:1"}
	limiter := NewLimiter(cfg, zap.NewNop())

	assert.True(t, limiter.Enabled())
	// The connection refusal surfaces as an allow.
	assert.True(t, limiter.AllowCharge(context.Background(), 42).Allowed)
}

func TestBucketTTLCoversRefillWindow(t *testing.T) {
	assert.Equal(t, "4s", bucketTTL(20, 40).String())
	assert.Equal(t, "1s", bucketTTL(100, 1).String())
}
