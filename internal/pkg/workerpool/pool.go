package workerpool

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Priority 优先级定义
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrTimeout    = errors.New("task execution timeout")
)

// ============= 配置 =============

// Config Worker Pool 配置
type Config struct {
	Workers        int  `mapstructure:"workers"`         // worker 数量
	QueueSize      int  `mapstructure:"queue_size"`      // 队列缓冲区大小
	EnablePriority bool `mapstructure:"enable_priority"` // 是否启用优先级队列
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:        8,
		QueueSize:      256,
		EnablePriority: false,
	}
}

// ============= 统计信息 =============

// Statistics 统计信息
type Statistics struct {
	mu sync.RWMutex

	Submitted int64 // 已提交
	Completed int64 // 已完成
	Failed    int64 // 失败
	Running   int64 // 运行中

	HighPriority   int64
	NormalPriority int64
	LowPriority    int64
}

func (s *Statistics) incSubmitted(priority Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Submitted++
	switch priority {
	case PriorityHigh:
		s.HighPriority++
	case PriorityNormal:
		s.NormalPriority++
	case PriorityLow:
		s.LowPriority++
	}
}

func (s *Statistics) incRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Running++
}

func (s *Statistics) decRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Running--
}

func (s *Statistics) incCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Completed++
}

func (s *Statistics) incFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
}

func (s *Statistics) Get() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Statistics{
		Submitted:      s.Submitted,
		Completed:      s.Completed,
		Failed:         s.Failed,
		Running:        s.Running,
		HighPriority:   s.HighPriority,
		NormalPriority: s.NormalPriority,
		LowPriority:    s.LowPriority,
	}
}

// ============= 优先级队列 =============

type priorityTask struct {
	Priority  Priority
	Task      func()
	Timestamp time.Time
	index     int
}

type priorityQueue []*priorityTask

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	n := len(*pq)
	task := x.(*priorityTask)
	task.index = n
	*pq = append(*pq, task)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*pq = old[0 : n-1]
	return task
}

// ============= Worker Pool =============

// Pool 固定容量的 Worker Pool，可选优先级队列
type Pool struct {
	pool *ants.Pool

	// 配置
	config *Config

	// 优先级队列（可选）
	priorityQueue *priorityQueue
	queueMu       sync.Mutex
	notEmpty      chan struct{}

	// 监控
	stats *Statistics

	// 控制
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	antsPool, err := ants.NewPool(config.Workers,
		ants.WithPanicHandler(func(err interface{}) {
			logger.Error("worker panic", zap.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		pool:   antsPool,
		config: config,
		stats:  &Statistics{},
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	// 初始化优先级队列（如果启用）
	if config.EnablePriority {
		pq := make(priorityQueue, 0, config.QueueSize)
		heap.Init(&pq)
		p.priorityQueue = &pq
		p.notEmpty = make(chan struct{}, 1)

		// 启动调度器
		p.wg.Add(1)
		go p.scheduler()
	}

	return p, nil
}

// Submit 提交任务
func (p *Pool) Submit(task func()) error {
	return p.SubmitWithPriority(PriorityNormal, task)
}

// SubmitWithPriority 提交带优先级的任务
func (p *Pool) SubmitWithPriority(priority Priority, task func()) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	// 如果启用了优先级队列
	if p.config.EnablePriority {
		pt := &priorityTask{
			Priority:  priority,
			Task:      task,
			Timestamp: time.Now(),
		}

		p.queueMu.Lock()
		heap.Push(p.priorityQueue, pt)
		p.queueMu.Unlock()

		p.stats.incSubmitted(priority)

		select {
		case p.notEmpty <- struct{}{}:
		default:
		}

		return nil
	}

	// 否则直接提交给 ants
	p.stats.incSubmitted(priority)
	return p.pool.Submit(func() {
		p.stats.incRunning()
		defer func() {
			p.stats.decRunning()
			p.stats.incCompleted()
		}()
		task()
	})
}

// scheduler 调度器（仅在启用优先级队列时运行）
func (p *Pool) scheduler() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.notEmpty:
			p.dispatch()
		}
	}
}

func (p *Pool) dispatch() {
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		p.queueMu.Lock()
		if p.priorityQueue.Len() == 0 {
			p.queueMu.Unlock()
			return
		}

		pt := heap.Pop(p.priorityQueue).(*priorityTask)
		p.queueMu.Unlock()

		task := pt.Task
		err := p.pool.Submit(func() {
			p.stats.incRunning()
			defer func() {
				p.stats.decRunning()
				p.stats.incCompleted()
			}()
			task()
		})

		if err != nil {
			p.queueMu.Lock()
			heap.Push(p.priorityQueue, pt)
			p.queueMu.Unlock()
			p.stats.incFailed()
			time.Sleep(10 * time.Millisecond)
			return
		}
	}
}

// ============= 公共方法 =============

// QueueLength 获取队列长度
func (p *Pool) QueueLength() int {
	if p.config.EnablePriority {
		p.queueMu.Lock()
		defer p.queueMu.Unlock()
		return p.priorityQueue.Len()
	}
	return 0
}

// Running 获取运行中的 worker 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free 获取空闲 worker 数量
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Cap 获取 worker 容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Stats 获取统计信息
func (p *Pool) Stats() Statistics {
	return p.stats.Get()
}

// Shutdown 关闭
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.pool.Release()
}
