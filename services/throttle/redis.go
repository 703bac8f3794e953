package throttlesvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/portal/core"
)

const keyPrefix = "throttle:"

type redisThrottle struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
}

var _ core.Throttle = (*redisThrottle)(nil)

// NewRedisThrottle connects to redisURL and checks the connection.
func NewRedisThrottle(ctx context.Context, redisURL string, maxAttempts int, window time.Duration) (core.Throttle, func() error, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing REDIS_URL")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "pinging redis")
	}
	return &redisThrottle{client: client, maxAttempts: int64(maxAttempts), window: window}, client.Close, nil
}

func (t *redisThrottle) Allowed(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Get(ctx, keyPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "reading attempts")
	}
	return n < t.maxAttempts, nil
}

// Fail counts one failed attempt. The window starts at the first failure.
func (t *redisThrottle) Fail(ctx context.Context, key string) error {
	k := keyPrefix + key
	n, err := t.client.Incr(ctx, k).Result()
	if err != nil {
		return errors.Wrap(err, "counting attempt")
	}
	if n == 1 {
		if err = t.client.Expire(ctx, k, t.window).Err(); err != nil {
			return errors.Wrap(err, "setting attempts expiry")
		}
	}
	return nil
}

func (t *redisThrottle) Reset(ctx context.Context, key string) error {
	return errors.Wrap(t.client.Del(ctx, keyPrefix+key).Err(), "resetting attempts")
}
