package worker

import (
	"context"
	"errors"
	"storefront/pkg/metrics"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

type countingTask struct {
	calls    atomic.Int32
	failures int32 // 前 N 次返回错误
	done     chan struct{}
}

func (t *countingTask) Kind() string { return "counting" }

func (t *countingTask) Run(ctx context.Context) error {
	n := t.calls.Add(1)
	if n <= t.failures {
		return errors.New("temporary failure")
	}
	close(t.done)
	return nil
}

func newTestPool(maxRetry int) *WorkerPool {
	p := NewWorkerPool(2, 10, maxRetry, metrics.NewMetricsCollector(prometheus.NewRegistry()))
	p.backoff = time.Millisecond
	return p
}

func TestWorkerPool(t *testing.T) {
	t.Run("Runs submitted task", func(t *testing.T) {
		p := newTestPool(0)
		p.Start()
		defer p.Stop()

		task := &countingTask{done: make(chan struct{})}
		assert.True(t, p.AddTask(task))

		select {
		case <-task.done:
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}
		assert.Equal(t, int32(1), task.calls.Load())
	})

	t.Run("Retries failed task", func(t *testing.T) {
		p := newTestPool(3)
		p.Start()
		defer p.Stop()

		task := &countingTask{failures: 2, done: make(chan struct{})}
		assert.True(t, p.AddTask(task))

		select {
		case <-task.done:
		case <-time.After(2 * time.Second):
			t.Fatal("task was not retried to success")
		}
		assert.Equal(t, int32(3), task.calls.Load())
	})

	t.Run("Rejects tasks after stop", func(t *testing.T) {
		p := newTestPool(0)
		p.Start()
		p.Stop()

		assert.False(t, p.AddTask(&countingTask{done: make(chan struct{})}))
	})
}
