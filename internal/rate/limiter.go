package rate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	MaxFailures      int
	Window           time.Duration
	EnableIPThrottle bool
}

// Limiter counts failed logins per credential, and optionally per IP, in a
// rolling window.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
	seq    atomic.Uint64
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
	}
}

// Check returns ErrRateLimited when the credential or the IP already holds
// MaxFailures failures inside the window.
func (l *Limiter) Check(ctx context.Context, credential, ip string) error {
	for _, key := range l.keys(credential, ip) {
		count, err := l.count(ctx, key)
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxFailures) {
			return ErrRateLimited
		}
	}
	return nil
}

// RecordFailure adds one failure for the credential and IP.
func (l *Limiter) RecordFailure(ctx context.Context, credential, ip string) error {
	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	for _, key := range l.keys(credential, ip) {
		_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, key, "-inf", l.cutoff(now))
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
			pipe.Expire(ctx, key, l.config.Window)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// Reset clears the failures recorded for the credential and IP.
func (l *Limiter) Reset(ctx context.Context, credential, ip string) error {
	keys := l.keys(credential, ip)
	if len(keys) == 0 {
		return nil
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Failures returns the failures currently inside the window for the credential.
func (l *Limiter) Failures(ctx context.Context, credential string) (int, error) {
	credential = normalizeCredential(credential)
	if credential == "" {
		return 0, nil
	}
	count, err := l.count(ctx, credentialKey(credential))
	return int(count), err
}

func (l *Limiter) count(ctx context.Context, key string) (int64, error) {
	var card *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", l.cutoff(l.now()))
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return card.Val(), nil
}

func (l *Limiter) cutoff(now time.Time) string {
	return "(" + strconv.FormatInt(now.Add(-l.config.Window).UnixNano(), 10)
}

func (l *Limiter) keys(credential, ip string) []string {
	keys := make([]string, 0, 2)
	if c := normalizeCredential(credential); c != "" {
		keys = append(keys, credentialKey(c))
	}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, ipKey(ip))
	}
	return keys
}

func normalizeCredential(credential string) string {
	return strings.ToLower(strings.TrimSpace(credential))
}

func credentialKey(credential string) string {
	return "lf:" + credential
}

func ipKey(ip string) string {
	return "lfi:" + ip
}
