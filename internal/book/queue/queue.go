package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/redis"
)

// 解析任务队列的 Redis list 键
const queueKey = "bookhub:parsing:queue"

// ParsingQueue 基于 Redis list 的解析任务队列。
// 入队 LPush、出队 RPop，先进先出。
type ParsingQueue struct {
	client *redis.Client
	logger *logger.Logger
}

// NewParsingQueue 创建解析任务队列
func NewParsingQueue(client *redis.Client, log *logger.Logger) *ParsingQueue {
	return &ParsingQueue{
		client: client,
		logger: log,
	}
}

// Enqueue 任务入队
func (q *ParsingQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if _, err := q.client.LPush(ctx, queueKey, jobID.String()); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	q.logger.Debug("parsing job enqueued", zap.String("job_id", jobID.String()))
	return nil
}

// Dequeue 取出最早入队的任务，队列为空时第二个返回值为 false
func (q *ParsingQueue) Dequeue(ctx context.Context) (uuid.UUID, bool, error) {
	val, err := q.client.RPop(ctx, queueKey)
	if err != nil {
		if redis.IsNil(err) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to dequeue job: %w", err)
	}

	jobID, err := uuid.Parse(val)
	if err != nil {
		// 队列里出现脏数据，丢弃并继续
		q.logger.Warn("discarding malformed queue entry", zap.String("value", val))
		return uuid.Nil, false, nil
	}

	return jobID, true, nil
}

// Depth 当前队列深度
func (q *ParsingQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, queueKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}
