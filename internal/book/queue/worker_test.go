package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

type stubProcessor struct {
	mu         sync.Mutex
	processErr []error // 依次返回，越界后返回最后一个
	calls      int
	failedWith string
}

func (p *stubProcessor) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if len(p.processErr) > 0 {
		idx := p.calls
		if idx >= len(p.processErr) {
			idx = len(p.processErr) - 1
		}
		err = p.processErr[idx]
	}
	p.calls++
	return err
}

func (p *stubProcessor) FailJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failedWith = reason
	return nil
}

func newTestWorker(t *testing.T, processor JobProcessor, opts WorkerOptions) *Worker {
	t.Helper()
	log, err := logger.New(nil)
	require.NoError(t, err)
	return NewWorker(nil, nil, processor, opts, log)
}

func TestNewWorkerDefaults(t *testing.T) {
	w := newTestWorker(t, &stubProcessor{}, WorkerOptions{MaxRetries: -1})

	assert.Equal(t, 0, w.opts.MaxRetries)
	assert.Equal(t, 5*time.Second, w.opts.RetryBackoff)
	assert.Equal(t, time.Second, w.opts.PollInterval)
}

func TestRunJobSucceedsFirstAttempt(t *testing.T) {
	p := &stubProcessor{}
	w := newTestWorker(t, p, WorkerOptions{MaxRetries: 3, RetryBackoff: time.Millisecond})

	w.runJob(context.Background(), uuid.New())

	assert.Equal(t, 1, p.calls)
	assert.Empty(t, p.failedWith)
}

func TestRunJobDoesNotRetryParseErrors(t *testing.T) {
	p := &stubProcessor{processErr: []error{
		apperrors.New(apperrors.ErrParseInvalidContainer, "bad archive"),
	}}
	w := newTestWorker(t, p, WorkerOptions{MaxRetries: 3, RetryBackoff: time.Millisecond})

	w.runJob(context.Background(), uuid.New())

	assert.Equal(t, 1, p.calls, "parse errors must not be retried")
	assert.Empty(t, p.failedWith, "processor already marked the job failed")
}

func TestRunJobRetriesTransientFailures(t *testing.T) {
	p := &stubProcessor{processErr: []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		nil,
	}}
	w := newTestWorker(t, p, WorkerOptions{MaxRetries: 3, RetryBackoff: time.Millisecond})

	w.runJob(context.Background(), uuid.New())

	assert.Equal(t, 3, p.calls)
	assert.Empty(t, p.failedWith)
}

func TestRunJobExhaustsRetries(t *testing.T) {
	p := &stubProcessor{processErr: []error{errors.New("connection refused")}}
	w := newTestWorker(t, p, WorkerOptions{MaxRetries: 2, RetryBackoff: time.Millisecond})

	w.runJob(context.Background(), uuid.New())

	assert.Equal(t, 3, p.calls, "initial attempt plus two retries")
	assert.Contains(t, p.failedWith, "retries exhausted")
	assert.Contains(t, p.failedWith, "connection refused")
}

func TestRunJobStopsOnContextCancel(t *testing.T) {
	p := &stubProcessor{processErr: []error{errors.New("connection refused")}}
	w := newTestWorker(t, p, WorkerOptions{MaxRetries: 5, RetryBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.runJob(ctx, uuid.New())
		close(done)
	}()

	// 第一次失败后进入退避等待，取消应立即返回
	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.calls == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runJob did not return after context cancellation")
	}
	assert.Equal(t, 1, p.calls)
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		errors.New("dial tcp: connection refused"),
		apperrors.New(apperrors.ErrStorageFailed, "temporary write failure"),
	}
	for _, err := range retryable {
		assert.True(t, isRetryable(err), err.Error())
	}

	permanent := []error{
		apperrors.New(apperrors.ErrParseInvalidContainer, "x"),
		apperrors.New(apperrors.ErrParseMissingPackage, "x"),
		apperrors.New(apperrors.ErrParseMissingSpine, "x"),
		apperrors.New(apperrors.ErrParseFailed, "x"),
		apperrors.New(apperrors.ErrParseJobNotFound, "x"),
		apperrors.New(apperrors.ErrBookInvalidFileType, "x"),
		apperrors.New(apperrors.ErrBookNotFound, "x"),
	}
	for _, err := range permanent {
		assert.False(t, isRetryable(err), err.Error())
	}
}
