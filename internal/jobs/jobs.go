package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/infra"
)

// Locker — распределенная блокировка запуска джобы: в кластере из нескольких
// инстансов цикл гоняет только захвативший ключ.
type Locker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewLocker(rdb *redis.Client, logger *zap.Logger) *Locker {
	return &Locker{rdb: rdb, logger: logger.Named("joblock")}
}

// Acquire пытается взять лок джобы на ttl. false — лок держит другой инстанс.
func (l *Locker) Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, infra.GetRunLockKey(job), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release снимает лок. Ошибка не фатальна: TTL добьет ключ сам.
func (l *Locker) Release(ctx context.Context, job string) {
	if err := l.rdb.Del(ctx, infra.GetRunLockKey(job)).Err(); err != nil {
		l.logger.Warn("job lock release failed", zap.String("job", job), zap.Error(err))
	}
}

// withLock выполняет fn под локом джобы; при занятом локе молча выходит.
func (l *Locker) withLock(ctx context.Context, job string, ttl time.Duration, fn func(context.Context) error) error {
	ok, err := l.Acquire(ctx, job, ttl)
	if err != nil {
		return err
	}
	if !ok {
		l.logger.Info("job lock is held elsewhere, skipping run", zap.String("job", job))
		return nil
	}
	defer l.Release(ctx, job)
	return fn(ctx)
}
