package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a point-in-time view of the user database pool. Counts are
// cumulative since the pool was opened.
type PoolStats struct {
	MaxConns          int32
	IdleConns         int32
	AcquiredConns     int32
	ConstructingConns int32

	Acquires         int64 // successful acquisitions
	EmptyAcquires    int64 // successful acquisitions that had to wait
	CanceledAcquires int64
	AcquireTime      time.Duration
}

// poolCollector reads PoolStats on every scrape so the gauges never go stale.
type poolCollector struct {
	stat func() PoolStats

	conns       *prometheus.Desc
	maxConns    *prometheus.Desc
	acquires    *prometheus.Desc
	acquireTime *prometheus.Desc
}

func newPoolCollector(stat func() PoolStats) *poolCollector {
	return &poolCollector{
		stat: stat,
		conns: prometheus.NewDesc("riff_db_pool_conns",
			"Connections in the user database pool by state.", []string{"state"}, nil),
		maxConns: prometheus.NewDesc("riff_db_pool_max_conns",
			"Configured connection ceiling of the user database pool.", nil, nil),
		acquires: prometheus.NewDesc("riff_db_pool_acquires_total",
			"Connection acquisitions by outcome.", []string{"outcome"}, nil),
		acquireTime: prometheus.NewDesc("riff_db_pool_acquire_seconds_total",
			"Time spent acquiring connections.", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.maxConns
	ch <- c.acquires
	ch <- c.acquireTime
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()

	for state, n := range map[string]int32{
		"idle":         s.IdleConns,
		"acquired":     s.AcquiredConns,
		"constructing": s.ConstructingConns,
	} {
		ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns))

	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.Acquires-s.EmptyAcquires), "immediate")
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.EmptyAcquires), "waited")
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.CanceledAcquires), "canceled")
	ch <- prometheus.MustNewConstMetric(c.acquireTime, prometheus.CounterValue, s.AcquireTime.Seconds())
}
