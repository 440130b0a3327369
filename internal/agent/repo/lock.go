package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// ErrLockNotHeld is returned by unlock when the lock expired or was taken over.
var ErrLockNotHeld = errors.New("thread lock not held")

// release deletes the lock only if it still carries our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisThreadLock serializes turns on a thread with SET NX PX. Lock polls
// until the lock is free or ctx is done.
type RedisThreadLock struct {
	rdb  redis.UniversalClient
	ttl  time.Duration
	poll time.Duration
}

func NewRedisThreadLock(rdb redis.UniversalClient, ttl time.Duration) *RedisThreadLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisThreadLock{rdb: rdb, ttl: ttl, poll: 100 * time.Millisecond}
}

func (l *RedisThreadLock) key(threadID string) string {
	return fmt.Sprintf("thread_lock:%s", threadID)
}

func (l *RedisThreadLock) Lock(ctx context.Context, threadID string) (func(context.Context) error, error) {
	key := l.key(threadID)
	token := uuid.NewString()

	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to acquire thread lock")
			return nil, errx.WrapRedis(err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for thread %s: %w", threadID, ctx.Err())
		case <-t.C:
		}
	}

	logx.Debug().Str("thread_id", threadID).Msg("Thread locked")
	return func(ctx context.Context) error {
		n, err := release.Run(ctx, l.rdb, []string{key}, token).Int()
		if err != nil {
			return errx.WrapRedis(err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}, nil
}

var _ model.ThreadLocker = (*RedisThreadLock)(nil)
