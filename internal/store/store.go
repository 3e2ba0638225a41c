package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/retry"
)

var tracer = otel.Tracer("contabil.internal.store")

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("store: duplicate")
)

// Querier pgxpool.Pool 与 pgxmock 共同满足的查询接口
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConnectPostgres 建立连接池并 Ping，失败按策略重试
func ConnectPostgres(ctx context.Context, url string, policy *retry.Config) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}

	return retry.Do(ctx, policy, "postgres connect", func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}, retry.LogRetry("postgres connect"))
}

// ConnectRedis 创建 Redis 客户端并 Ping，失败按策略重试
func ConnectRedis(ctx context.Context, opts *redis.Options, policy *retry.Config) (*redis.Client, error) {
	return retry.Do(ctx, policy, "redis connect", func(ctx context.Context) (*redis.Client, error) {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil
	}, retry.LogRetry("redis connect"))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
