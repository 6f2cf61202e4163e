package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallcanvas/inkwell/internal/config"
)

const keyDebitAccount = "quota:debit:account:%s"

// DebitLimiter throttles debit attempts per account. A nil limiter means
// rate limiting is disabled and every call is allowed.
type DebitLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewDebitLimiter(cfg config.Config) (*DebitLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.DebitRate <= 0 || limitCfg.DebitBurst <= 0 {
		return nil, errors.New("debit rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &DebitLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.DebitRate,
		burst:  limitCfg.DebitBurst,
	}, nil
}

func (l *DebitLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowDebit takes one token from the account's bucket.
func (l *DebitLimiter) AllowDebit(ctx context.Context, accountID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyDebitAccount, strings.TrimSpace(accountID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

func parseFloat(s string) (float64, bool) {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
