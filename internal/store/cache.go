package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
)

const (
	defaultHistoryTTL = time.Hour
	maxAppendAttempts = 16
)

// HistoryCache 最近若干轮对话的 Redis 读穿缓存
// Postgres 是唯一事实来源，缓存丢失只影响延迟。
type HistoryCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewHistoryCache(client *redis.Client, ttl time.Duration) *HistoryCache {
	if client == nil {
		panic("store: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	return &HistoryCache{redis: client, ttl: ttl}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("contabil:history:%s", sessionID)
}

// Load 读取缓存，未命中时 ok 为 false
func (c *HistoryCache) Load(ctx context.Context, sessionID string) (turns []schema.ConversationTurn, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "store.cache.load")
	defer span.End()

	data, err := c.redis.Get(ctx, historyKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, fmt.Errorf("store: load cached history: %w", err)
	}

	if err := json.Unmarshal(data, &turns); err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("store: decode cached history: %w", err)
	}
	return turns, true, nil
}

// Put 覆盖写入缓存
func (c *HistoryCache) Put(ctx context.Context, sessionID string, turns []schema.ConversationTurn) error {
	ctx, span := tracer.Start(ctx, "store.cache.put")
	defer span.End()

	if turns == nil {
		turns = []schema.ConversationTurn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("store: encode cached history: %w", err)
	}
	if err := c.redis.Set(ctx, historyKey(sessionID), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: persist cached history: %w", err)
	}
	return nil
}

// Append 追加一轮并只保留最近 keep 轮；缓存不存在时不做任何事。
// WATCH 乐观锁保证同一会话的并发追加不会互相覆盖，重试耗尽时删除缓存。
func (c *HistoryCache) Append(ctx context.Context, sessionID string, turn schema.ConversationTurn, keep int) error {
	ctx, span := tracer.Start(ctx, "store.cache.append")
	defer span.End()

	key := historyKey(sessionID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var turns []schema.ConversationTurn
		if err := json.Unmarshal(data, &turns); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		turns = append(turns, turn)
		if keep > 0 && len(turns) > keep {
			turns = turns[len(turns)-keep:]
		}
		out, err := json.Marshal(turns)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, c.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err := c.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("store: append cached history: %w", err)
		}
		return nil
	}

	span.RecordError(redis.TxFailedErr)
	return c.Invalidate(ctx, sessionID)
}

// Invalidate 删除缓存
func (c *HistoryCache) Invalidate(ctx context.Context, sessionID string) error {
	if err := c.redis.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("store: invalidate cached history: %w", err)
	}
	return nil
}
