package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"continuity/internal/infra"
)

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Scripter is the subset of *redis.Client the locker needs.
type Scripter interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLocker guards a key across processes with SET NX PX and a
// compare-and-delete release. A caller that finds the key held does not run fn
// and gets ErrHeld.
type RedisLocker struct {
	client Scripter
	prefix string
	ttl    time.Duration
	logger *infra.Logger
}

func NewRedisLocker(client Scripter, ttl time.Duration, logger *infra.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &RedisLocker{client: client, prefix: "continuity:materialize:", ttl: ttl, logger: logger}
}

// Do acquires the key, runs fn and releases it. When redis is unreachable fn
// runs unguarded and the ledger commit remains the only arbiter.
func (l *RedisLocker) Do(ctx context.Context, key string, fn Func) (any, bool, error) {
	lockKey := l.prefix + key
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("lock", lockKey).Msg("redis lock unavailable, continuing unguarded")
		v, err := fn(ctx)
		return v, false, err
	}
	if !acquired {
		return nil, false, ErrHeld
	}
	defer l.release(lockKey, token)

	v, err := fn(ctx)
	return v, false, err
}

func (l *RedisLocker) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.client.Eval(ctx, releaseScript, []string{lockKey}, token).Err(); err != nil {
		l.logger.Warn().Err(err).Str("lock", lockKey).Msg("redis lock release failed, key expires with its ttl")
	}
}
