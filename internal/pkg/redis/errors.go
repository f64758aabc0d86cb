package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// 预定义错误
var (
	// ErrNil Key 不存在（透传 go-redis 的哨兵值，便于调用方判空）
	ErrNil = redis.Nil

	// ErrNotInitialized 客户端尚未初始化
	ErrNotInitialized = errors.New("redis: client not initialized")
)

// IsNil 判断是否是 Key 不存在错误。
// 队列消费端用它区分"队列空"和真正的故障。
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
