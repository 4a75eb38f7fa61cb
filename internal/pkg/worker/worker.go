package worker

import (
	"context"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task 异步副作用任务 (推送通知、回调归档等)
// 任务失败不影响主流程，只做有限次重试
type Task interface {
	Kind() string
	Run(ctx context.Context) error
}

type envelope struct {
	task  Task
	retry int // 重试次数
}

type WorkerPool struct {
	taskQueue  chan envelope
	retryQueue chan envelope // 重试队列
	workerNum  int
	maxRetry   int // 最大重试次数
	backoff    time.Duration
	timeout    time.Duration
	metrics    *metrics.MetricsCollector

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

func NewWorkerPool(workerNum, bufferSize, maxRetry int, m *metrics.MetricsCollector) *WorkerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &WorkerPool{
		taskQueue:  make(chan envelope, bufferSize),
		retryQueue: make(chan envelope, bufferSize/2+1),
		workerNum:  workerNum,
		maxRetry:   maxRetry,
		backoff:    time.Second,
		timeout:    30 * time.Second,
		metrics:    m,
		done:       make(chan struct{}),
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	// 启动重试处理协程
	go p.retryWorker()
	logger.Log.Info("Worker pool started", zap.Int("workers", p.workerNum))
}

// Stop 停止接收新任务，等待队列中的任务处理完
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		close(p.taskQueue)
	})
	p.wg.Wait()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for env := range p.taskQueue {
		err := p.runTask(env.task)
		if err == nil {
			p.record(env.task.Kind(), "ok")
			continue
		}

		logger.Log.Warn("Worker task failed",
			zap.Int("worker", id),
			zap.String("kind", env.task.Kind()),
			zap.Int("retry", env.retry),
			zap.Error(err),
		)

		// 如果未达到最大重试次数，加入重试队列
		if env.retry < p.maxRetry {
			env.retry++
			select {
			case p.retryQueue <- env:
				p.record(env.task.Kind(), "retry")
			default:
				p.deadLetter(env, err)
			}
			continue
		}
		p.deadLetter(env, err)
	}
}

func (p *WorkerPool) runTask(t Task) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Worker task panicked", zap.String("kind", t.Kind()), zap.Any("panic", r))
			err = errPanic
		}
	}()
	return t.Run(ctx)
}

func (p *WorkerPool) retryWorker() {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.retryQueue:
			// 延迟重试，避免立即重试
			select {
			case <-time.After(time.Duration(env.retry) * p.backoff):
			case <-p.done:
				p.deadLetter(env, errStopped)
				return
			}
			if !p.enqueue(env) {
				p.deadLetter(env, errQueueFull)
			}
		}
	}
}

// enqueue 非阻塞入队，池已停止或队列满时返回 false
func (p *WorkerPool) enqueue(env envelope) (ok bool) {
	defer func() {
		// 与 Stop 并发时向已关闭的 channel 发送会 panic
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.taskQueue <- env:
		return true
	default:
		return false
	}
}

// deadLetter 任务最终失败，只记录日志，由人工根据日志补偿
func (p *WorkerPool) deadLetter(env envelope, err error) {
	p.record(env.task.Kind(), "dropped")
	logger.Log.Error("Worker task dropped",
		zap.String("kind", env.task.Kind()),
		zap.Int("retry", env.retry),
		zap.Error(err),
	)
}

func (p *WorkerPool) record(kind, result string) {
	if p.metrics != nil {
		p.metrics.RecordWorkerTask(kind, result)
	}
}

// AddTask 提交任务，队列满时丢弃并返回 false
func (p *WorkerPool) AddTask(t Task) bool {
	if p.enqueue(envelope{task: t}) {
		return true
	}
	p.deadLetter(envelope{task: t}, errQueueFull)
	return false
}
