package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/workerpool"
)

// JobProcessor 解析任务处理器
type JobProcessor interface {
	// ProcessJob 执行一次解析。解析语义失败由实现方标记终态后返回错误，
	// 基础设施失败返回错误交给调用方重试。
	ProcessJob(ctx context.Context, jobID uuid.UUID) error

	// FailJob 重试耗尽后把任务标记为失败
	FailJob(ctx context.Context, jobID uuid.UUID, reason string) error
}

// WorkerOptions 消费端配置
type WorkerOptions struct {
	MaxRetries   int           // 瞬时失败的最大重试次数
	RetryBackoff time.Duration // 线性退避基数
	PollInterval time.Duration // 队列轮询间隔
}

// Worker 从队列取任务投递到协程池执行，
// 瞬时失败线性退避重试，解析失败不重试。
type Worker struct {
	queue     *ParsingQueue
	pool      *workerpool.Pool
	processor JobProcessor
	opts      WorkerOptions
	logger    *logger.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker 创建队列消费端
func NewWorker(queue *ParsingQueue, pool *workerpool.Pool, processor JobProcessor, opts WorkerOptions, log *logger.Logger) *Worker {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	return &Worker{
		queue:     queue,
		pool:      pool,
		processor: processor,
		opts:      opts,
		logger:    log,
		stopCh:    make(chan struct{}),
	}
}

// Start 启动轮询循环
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("parsing worker started",
		zap.Duration("poll_interval", w.opts.PollInterval),
		zap.Int("max_retries", w.opts.MaxRetries),
	)
}

// Stop 停止轮询并等待在途任务结束
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if w.pool != nil {
		w.logger.Info("draining parsing worker",
			zap.Int("in_flight", w.pool.Running()),
		)
	}
	w.wg.Wait()
	w.logger.Info("parsing worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain 把当前队列里的任务全部投递出去
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		jobID, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Error("dequeue failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}

		id := jobID
		w.wg.Add(1)
		if err := w.pool.Submit(func() {
			defer w.wg.Done()
			w.runJob(ctx, id)
		}); err != nil {
			w.wg.Done()
			w.logger.Error("submit job to pool failed",
				zap.String("job_id", id.String()),
				zap.Error(err),
			)
			// 投递失败放回队列，下轮再取
			if reErr := w.queue.Enqueue(ctx, id); reErr != nil {
				w.logger.Error("requeue failed", zap.String("job_id", id.String()), zap.Error(reErr))
			}
			return
		}
	}
}

// runJob 执行任务，瞬时失败按线性退避重试
func (w *Worker) runJob(ctx context.Context, jobID uuid.UUID) {
	ctx = logger.WithJobID(ctx, jobID.String())

	var lastErr error
	for attempt := 0; attempt <= w.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * w.opts.RetryBackoff
			w.logger.Warn("retrying parsing job",
				zap.String("job_id", jobID.String()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		lastErr = w.processor.ProcessJob(ctx, jobID)
		if lastErr == nil {
			return
		}
		if !isRetryable(lastErr) {
			w.logger.Error("parsing job failed",
				zap.String("job_id", jobID.String()),
				zap.Error(lastErr),
			)
			return
		}

		w.logger.Warn("transient failure on parsing job",
			zap.String("job_id", jobID.String()),
			zap.Error(lastErr),
		)
	}

	// 重试耗尽
	reason := fmt.Sprintf("retries exhausted: %v", lastErr)
	if err := w.processor.FailJob(ctx, jobID, reason); err != nil {
		w.logger.Error("mark job failed errored",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

// isRetryable 区分瞬时失败和解析语义失败。
// 解析类错误重试也不会变好，直接终止。
func isRetryable(err error) bool {
	switch errors.ExtractCode(err) {
	case errors.ErrParseInvalidContainer,
		errors.ErrParseMissingPackage,
		errors.ErrParseMissingSpine,
		errors.ErrParseFailed,
		errors.ErrParseJobNotFound,
		errors.ErrBookInvalidFileType,
		errors.ErrBookNotFound:
		return false
	}
	return true
}
