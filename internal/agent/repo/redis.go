package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// RedisCheckpointRepository keeps the three checkpoint stores as Redis
// keys. Every key of a thread is tracked in a per-thread set so Delete can
// remove them in one MULTI.
type RedisCheckpointRepository struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCheckpointRepository(rdb redis.UniversalClient, ttl time.Duration) *RedisCheckpointRepository {
	return &RedisCheckpointRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisCheckpointRepository) threadKeysKey(threadID string) string {
	return fmt.Sprintf("checkpoint_keys:%s", threadID)
}

func (r *RedisCheckpointRepository) indexKey(threadID, ns string) string {
	return fmt.Sprintf("checkpoints:%s:%s", threadID, ns)
}

func (r *RedisCheckpointRepository) checkpointKey(threadID, ns, id string) string {
	return fmt.Sprintf("checkpoint:%s:%s:%s", threadID, ns, id)
}

func (r *RedisCheckpointRepository) blobKey(threadID, ns, channel, version string) string {
	return fmt.Sprintf("checkpoint_blob:%s:%s:%s:%s", threadID, ns, channel, version)
}

func (r *RedisCheckpointRepository) writesKey(threadID, ns, id string) string {
	return fmt.Sprintf("checkpoint_writes:%s:%s:%s", threadID, ns, id)
}

// Setup is a no-op; Redis needs no schema.
func (r *RedisCheckpointRepository) Setup(context.Context) error { return nil }

func (r *RedisCheckpointRepository) Save(ctx context.Context, cp *model.Checkpoint) error {
	doc, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	writes, err := json.Marshal(cp.Writes)
	if err != nil {
		return fmt.Errorf("marshal writes: %w", err)
	}

	threadKeys := r.threadKeysKey(cp.ThreadID)
	index := r.indexKey(cp.ThreadID, cp.Namespace)
	cpKey := r.checkpointKey(cp.ThreadID, cp.Namespace, cp.ID)
	wKey := r.writesKey(cp.ThreadID, cp.Namespace, cp.ID)
	keys := []string{index, cpKey, wKey}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, cpKey, doc, r.ttl)
		p.Set(ctx, wKey, writes, r.ttl)
		p.RPush(ctx, index, cp.ID)
		for _, b := range cp.Blobs {
			data, err := json.Marshal(b)
			if err != nil {
				return fmt.Errorf("marshal blob %s: %w", b.Channel, err)
			}
			bKey := r.blobKey(cp.ThreadID, cp.Namespace, b.Channel, b.Version)
			p.Set(ctx, bKey, data, r.ttl)
			keys = append(keys, bKey)
		}
		members := make([]any, len(keys))
		for i, k := range keys {
			members[i] = k
		}
		p.SAdd(ctx, threadKeys, members...)
		if r.ttl > 0 {
			// extend TTL on touch
			p.Expire(ctx, index, r.ttl)
			p.Expire(ctx, threadKeys, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("thread_id", cp.ThreadID).Str("checkpoint_id", cp.ID).Msg("failed to save checkpoint to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisCheckpointRepository) Load(ctx context.Context, threadID, namespace string) (*model.Checkpoint, error) {
	id, err := r.rdb.LIndex(ctx, r.indexKey(threadID, namespace), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Str("checkpoint_ns", namespace).Msg("failed to read checkpoint index")
		return nil, errx.WrapRedis(err)
	}

	doc, err := r.rdb.Get(ctx, r.checkpointKey(threadID, namespace, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired under the index
		return nil, nil
	}
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	cp := &model.Checkpoint{}
	if err := json.Unmarshal(doc, cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	if len(cp.ChannelVersions) > 0 {
		keys := make([]string, 0, len(cp.ChannelVersions))
		for ch, v := range cp.ChannelVersions {
			keys = append(keys, r.blobKey(threadID, namespace, ch, v))
		}
		vals, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, errx.WrapRedis(err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				logx.Warn().Str("key", keys[i]).Msg("checkpoint blob missing")
				continue
			}
			var b model.CheckpointBlob
			if err := json.Unmarshal([]byte(s), &b); err != nil {
				return nil, fmt.Errorf("unmarshal blob %s: %w", keys[i], err)
			}
			cp.Blobs = append(cp.Blobs, b)
		}
	}

	writes, err := r.rdb.Get(ctx, r.writesKey(threadID, namespace, id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, errx.WrapRedis(err)
	default:
		if err := json.Unmarshal(writes, &cp.Writes); err != nil {
			return nil, fmt.Errorf("unmarshal writes: %w", err)
		}
	}
	return cp, nil
}

// Delete drops every key of the thread, including the key set, in one MULTI.
func (r *RedisCheckpointRepository) Delete(ctx context.Context, threadID string) error {
	setKey := r.threadKeysKey(threadID)
	keys, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", setKey).Msg("failed to list thread keys")
		return errx.WrapRedis(err)
	}
	keys = append(keys, setKey)

	if _, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		return nil
	}); err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("failed to delete checkpoints from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.CheckpointRepository = (*RedisCheckpointRepository)(nil)
