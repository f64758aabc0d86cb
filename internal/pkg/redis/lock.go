package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 分布式锁错误
var (
	ErrLockNotAcquired = errors.New("redis: lock not acquired")
	ErrLockNotHeld     = errors.New("redis: lock not held")
)

// releaseScript 只释放自己持有的锁
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Lock 分布式锁
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLock 创建分布式锁
func (c *Client) NewLock(key string, ttl time.Duration) *Lock {
	return &Lock{
		client: c,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire 尝试获取锁，未获取到返回 ErrLockNotAcquired
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockNotAcquired
	}
	return nil
}

// Release 释放锁（仅当仍由当前持有者持有时）
func (l *Lock) Release(ctx context.Context) error {
	n, err := l.client.rdb.Eval(ctx, releaseScript, []string{l.key}, l.token).Int64()
	if err != nil {
		l.client.logger.Error("redis release lock failed",
			zap.String("key", l.key),
			zap.Error(err),
		)
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// 锁竞争时的有界重试参数
const (
	lockRetryAttempts = 5
	lockRetryInterval = 200 * time.Millisecond
)

// retryAcquire 有界重试获取：try 返回 true 表示成功，
// 次数用尽返回 false，等待期间上下文取消则中止
func retryAcquire(ctx context.Context, attempts int, interval time.Duration, try func(ctx context.Context) (bool, error)) (bool, error) {
	for i := 0; i < attempts; i++ {
		ok, err := try(ctx)
		if ok || err != nil {
			return ok, err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
	return false, nil
}

// WithLock 在持有锁的情况下执行函数。
// 锁被占用时做短暂的有界重试，仍未拿到才返回 ErrLockNotAcquired。
func (c *Client) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock := c.NewLock(key, ttl)
	acquired, err := retryAcquire(ctx, lockRetryAttempts, lockRetryInterval, func(ctx context.Context) (bool, error) {
		return c.SetNX(ctx, lock.key, lock.token, lock.ttl)
	})
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockNotAcquired
	}
	defer func() {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, ErrLockNotHeld) {
			c.logger.Warn("release lock failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}
