package database

import (
	"database/sql"
	"testing"
	"time"

	"storefront/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestPoolMonitorCollect(t *testing.T) {
	samples := []sql.DBStats{
		{InUse: 2, Idle: 3, WaitCount: 1, WaitDuration: 100 * time.Millisecond},
		{InUse: 9, Idle: 0, WaitCount: 40, WaitDuration: 3 * time.Second},
	}
	i := 0
	pm := newPoolMonitor(func() sql.DBStats {
		s := samples[i]
		i++
		return s
	}, metrics.NewMetricsCollector(prometheus.NewRegistry()), time.Minute)

	assert.Equal(t, 100*time.Millisecond, pm.collect())
	assert.Equal(t, 2900*time.Millisecond, pm.collect())
}

func TestPoolMonitorStopIsIdempotent(t *testing.T) {
	pm := newPoolMonitor(func() sql.DBStats { return sql.DBStats{} },
		metrics.NewMetricsCollector(prometheus.NewRegistry()), time.Millisecond)
	pm.Start()
	pm.Stop()
	pm.Stop()
}
