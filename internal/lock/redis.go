package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("lock: redis unavailable")

const (
	defaultLease     = 10 * time.Second
	defaultRetryWait = 25 * time.Millisecond
	maxRetryWait     = 250 * time.Millisecond
)

// releaseScript deletes the key only while it still belongs to the caller.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Redis is a keyed lock shared by every instance talking to the same Redis.
// A lease bounds how long a crashed holder can keep a key.
type Redis struct {
	client redis.UniversalClient
	prefix string
	lease  time.Duration
	wait   time.Duration
}

// RedisOption configures Redis.
type RedisOption func(*Redis)

// WithLease overrides the key expiry.
func WithLease(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.lease = d
		}
	}
}

// WithRetryWait overrides the initial poll interval while waiting.
func WithRetryWait(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.wait = d
		}
	}
}

// NewRedis builds a lock on top of client. Keys are stored under prefix.
func NewRedis(client redis.UniversalClient, prefix string, opts ...RedisOption) *Redis {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "hrms:lock"
	}
	r := &Redis{
		client: client,
		prefix: prefix,
		lease:  defaultLease,
		wait:   defaultRetryWait,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(k string) string {
	return r.prefix + ":" + k
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	owner := uuid.NewString()
	full := r.key(key)
	wait := r.wait
	for {
		ok, err := r.client.SetNX(ctx, full, owner, r.lease).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if ok {
			return r.unlocker(full, owner), nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxRetryWait {
			wait = maxRetryWait
		}
	}
}

func (r *Redis) unlocker(key, owner string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Release must survive a cancelled request context.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseLua.Run(ctx, r.client, []string{key}, owner).Err()
	}
}
