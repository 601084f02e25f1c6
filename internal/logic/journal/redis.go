package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/jsonx"

	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/types"
)

// Redis key 前缀
const (
	opPrefix       = "vault:op"
	opStatusPrefix = "vault:op:status"
	sharesPrefix   = "vault:shares"
	planPrefix     = "vault:plan"
)

// TTL（份额不过期）
const (
	opTTL   = 7 * 24 * time.Hour
	planTTL = 30 * 24 * time.Hour
)

// RedisStore 基于 Redis 的操作日志、份额簿与迁移计划存储
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func opKey(id string) string {
	return fmt.Sprintf("%s:%s", opPrefix, id)
}

func opStatusKey(id string) string {
	return fmt.Sprintf("%s:%s", opStatusPrefix, id)
}

func sharesKey(vault types.Pubkey) string {
	return fmt.Sprintf("%s:%s", sharesPrefix, vault)
}

func planKey(id string) string {
	return fmt.Sprintf("%s:%s", planPrefix, id)
}

// Record 记录与状态写在同一个 pipeline 中
func (r *RedisStore) Record(ctx context.Context, rec *OpRecord) error {
	data, err := jsonx.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal op record %s: %w", rec.ID, err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, opKey(rec.ID), data, opTTL)
	pipe.Set(ctx, opStatusKey(rec.ID), int(rec.Status), opTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record op %s: %w", rec.ID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*OpRecord, error) {
	data, err := r.rdb.Get(ctx, opKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	var rec OpRecord
	if err := jsonx.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal op record %s: %w", id, err)
	}
	return &rec, nil
}

// GetStatus 获取操作状态，key 不存在时为 OpStatusUnknown
func (r *RedisStore) GetStatus(ctx context.Context, id string) (core.OpStatus, error) {
	val, err := r.rdb.Get(ctx, opStatusKey(id)).Int()
	switch {
	case err == redis.Nil:
		return core.OpStatusUnknown, nil
	case err != nil:
		return core.OpStatusUnknown, fmt.Errorf("redis get error: %w", err)
	case val == int(core.OpStatusSubmitted):
		return core.OpStatusSubmitted, nil
	case val == int(core.OpStatusConfirmed):
		return core.OpStatusConfirmed, nil
	case val == int(core.OpStatusFailed):
		return core.OpStatusFailed, nil
	case val == int(core.OpStatusSkipped):
		return core.OpStatusSkipped, nil
	default:
		return core.OpStatusUnknown, nil // 容错处理
	}
}

func (r *RedisStore) AddShares(ctx context.Context, vault, user types.Pubkey, delta int64) (int64, error) {
	n, err := r.rdb.HIncrBy(ctx, sharesKey(vault), user.String(), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hincrby error: %w", err)
	}
	return n, nil
}

func (r *RedisStore) Shares(ctx context.Context, vault, user types.Pubkey) (uint64, error) {
	n, err := r.rdb.HGet(ctx, sharesKey(vault), user.String()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis hget error: %w", err)
	}
	if n < 0 {
		return 0, nil
	}
	return uint64(n), nil
}

func (r *RedisStore) SavePlan(ctx context.Context, id string, data []byte) error {
	return r.rdb.Set(ctx, planKey(id), data, planTTL).Err()
}

func (r *RedisStore) LoadPlan(ctx context.Context, id string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, planKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return data, nil
}
