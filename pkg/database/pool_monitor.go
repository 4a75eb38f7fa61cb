package database

import (
	"database/sql"
	"sync"
	"time"

	"storefront/pkg/logger"
	"storefront/pkg/metrics"

	"go.uber.org/zap"
)

// PoolMonitor 定时采集连接池状态并导出到 Prometheus
type PoolMonitor struct {
	stats    func() sql.DBStats
	metrics  *metrics.MetricsCollector
	interval time.Duration
	// WaitAlert 两次采样间新增等待耗时超过该值时告警
	waitAlert time.Duration

	mu       sync.Mutex
	last     sql.DBStats
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoolMonitor 创建连接池监控器，调用 Start 后开始采样
func NewPoolMonitor(db *DB, m *metrics.MetricsCollector, interval time.Duration) *PoolMonitor {
	return newPoolMonitor(db.raw.Stats, m, interval)
}

func newPoolMonitor(stats func() sql.DBStats, m *metrics.MetricsCollector, interval time.Duration) *PoolMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PoolMonitor{
		stats:     stats,
		metrics:   m,
		interval:  interval,
		waitAlert: time.Second,
		stopCh:    make(chan struct{}),
	}
}

func (pm *PoolMonitor) Start() {
	go func() {
		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pm.collect()
			case <-pm.stopCh:
				return
			}
		}
	}()
}

func (pm *PoolMonitor) Stop() {
	pm.stopOnce.Do(func() { close(pm.stopCh) })
}

// collect 采样一次，返回本次新增的等待耗时
func (pm *PoolMonitor) collect() time.Duration {
	s := pm.stats()
	pm.metrics.UpdateDBConnections(s.InUse, s.Idle)

	pm.mu.Lock()
	waited := s.WaitDuration - pm.last.WaitDuration
	waits := s.WaitCount - pm.last.WaitCount
	pm.last = s
	pm.mu.Unlock()

	if waited > pm.waitAlert {
		logger.Log.Warn("Database pool saturated",
			zap.Int("open", s.OpenConnections),
			zap.Int("in_use", s.InUse),
			zap.Int("max_open", s.MaxOpenConnections),
			zap.Int64("waits", waits),
			zap.Duration("waited", waited),
		)
	}
	return waited
}
