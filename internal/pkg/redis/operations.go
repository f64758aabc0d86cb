package redis

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SetNX 仅当键不存在时设置，分布式锁的获取原语
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		c.logger.Error("redis setnx failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return ok, err
}

// 列表操作：解析队列的生产（LPush）、消费（RPop）和深度（LLen）

// LPush 从列表左侧插入元素
func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) (int64, error) {
	n, err := c.rdb.LPush(ctx, key, values...).Result()
	if err != nil {
		c.logger.Error("redis lpush failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return n, err
}

// RPop 从列表右侧弹出元素，空列表返回 ErrNil
func (c *Client) RPop(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.RPop(ctx, key).Result()
	if err != nil && !IsNil(err) {
		c.logger.Error("redis rpop failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return val, err
}

// LLen 获取列表长度
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis llen failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return n, err
}
