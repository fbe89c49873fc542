package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwell-ai/inkwell/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyCharge = "ratelimit:charge:%s"
	keyPoll   = "ratelimit:poll:%s"
)

// Limiter applies per-account token buckets to the charge and poll
// endpoints. Without a Redis address it is disabled and every request is
// allowed; a Redis outage likewise fails open rather than blocking billing
// traffic, with a single warning per process.
type Limiter struct {
	enabled bool
	log     *zap.Logger
	bucket  *TokenBucket

	chargeRate  float64
	chargeBurst int
	pollRate    float64
	pollBurst   int

	failOpenOnce sync.Once
}

func NewLimiter(cfg config.Config, log *zap.Logger) *Limiter {
	log = log.Named("ratelimit")

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Warn("rate limiting disabled; no redis address configured")
		return &Limiter{enabled: false, log: log}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &Limiter{
		enabled:     true,
		log:         log,
		bucket:      NewTokenBucket(client),
		chargeRate:  positiveRate(cfg.RateLimit.ChargePerSecond, 20),
		chargeBurst: positiveBurst(cfg.RateLimit.ChargeBurst, 40),
		pollRate:    positiveRate(cfg.RateLimit.PollPerSecond, 10),
		pollBurst:   positiveBurst(cfg.RateLimit.PollBurst, 20),
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowCharge gates sync usage charges for one account.
func (l *Limiter) AllowCharge(ctx context.Context, accountID snowflake.ID) *Result {
	return l.allow(ctx, fmt.Sprintf(keyCharge, accountID.String()), l.chargeRate, l.chargeBurst)
}

// AllowPoll gates generation status polls for one account.
func (l *Limiter) AllowPoll(ctx context.Context, accountID snowflake.ID) *Result {
	return l.allow(ctx, fmt.Sprintf(keyPoll, accountID.String()), l.pollRate, l.pollBurst)
}

func (l *Limiter) allow(ctx context.Context, key string, rate float64, burst int) *Result {
	if !l.Enabled() {
		return &Result{Allowed: true}
	}

	result, err := l.bucket.Allow(ctx, key, rate, burst)
	if err != nil {
		l.failOpenOnce.Do(func() {
			l.log.Warn("rate limiter unreachable; failing open", zap.Error(err))
		})
		return &Result{Allowed: true}
	}
	return result
}

func positiveRate(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func positiveBurst(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
