package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsCollector exports pgxpool connection statistics as Prometheus
// metrics, labeled by service so dashboards can split the shared database
// host per consumer.
type PoolStatsCollector struct {
	pool    *pgxpool.Pool
	service string

	gauges   map[string]*prometheus.Desc
	counters map[string]*prometheus.Desc
}

const (
	descAcquiredConns      = "db_pool_acquired_connections"
	descIdleConns          = "db_pool_idle_connections"
	descTotalConns         = "db_pool_total_connections"
	descMaxConns           = "db_pool_max_connections"
	descConstructingConns  = "db_pool_constructing_connections"
	descAcquireCount       = "db_pool_acquire_count_total"
	descAcquireDuration    = "db_pool_acquire_duration_seconds_total"
	descCanceledAcquires   = "db_pool_canceled_acquire_count_total"
	descEmptyAcquires      = "db_pool_empty_acquire_count_total"
	descNewConns           = "db_pool_new_connections_total"
	descMaxLifetimeDestroy = "db_pool_max_lifetime_destroy_total"
	descMaxIdleDestroy     = "db_pool_max_idle_destroy_total"
)

// NewPoolStatsCollector creates a collector over the given pool.
func NewPoolStatsCollector(pool *pgxpool.Pool, service string) *PoolStatsCollector {
	labels := []string{"service"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, labels, nil)
	}

	return &PoolStatsCollector{
		pool:    pool,
		service: service,
		gauges: map[string]*prometheus.Desc{
			descAcquiredConns:     desc(descAcquiredConns, "Number of currently acquired connections"),
			descIdleConns:         desc(descIdleConns, "Number of currently idle connections"),
			descTotalConns:        desc(descTotalConns, "Total number of connections in the pool"),
			descMaxConns:          desc(descMaxConns, "Maximum number of connections allowed"),
			descConstructingConns: desc(descConstructingConns, "Number of connections currently being constructed"),
		},
		counters: map[string]*prometheus.Desc{
			descAcquireCount:       desc(descAcquireCount, "Total number of connection acquires"),
			descAcquireDuration:    desc(descAcquireDuration, "Total time spent acquiring connections in seconds"),
			descCanceledAcquires:   desc(descCanceledAcquires, "Total number of canceled connection acquires"),
			descEmptyAcquires:      desc(descEmptyAcquires, "Total number of acquires that had to wait for a connection"),
			descNewConns:           desc(descNewConns, "Total number of new connections created"),
			descMaxLifetimeDestroy: desc(descMaxLifetimeDestroy, "Total connections destroyed due to max lifetime"),
			descMaxIdleDestroy:     desc(descMaxIdleDestroy, "Total connections destroyed due to max idle time"),
		},
	}
}

// Describe sends the descriptors of all metrics to the provided channel.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.gauges {
		ch <- d
	}
	for _, d := range c.counters {
		ch <- d
	}
}

// Collect reads a snapshot of the pool statistics and emits one sample per
// metric.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()

	gauge := func(name string, v float64) {
		ch <- prometheus.MustNewConstMetric(c.gauges[name], prometheus.GaugeValue, v, c.service)
	}
	counter := func(name string, v float64) {
		ch <- prometheus.MustNewConstMetric(c.counters[name], prometheus.CounterValue, v, c.service)
	}

	gauge(descAcquiredConns, float64(stat.AcquiredConns()))
	gauge(descIdleConns, float64(stat.IdleConns()))
	gauge(descTotalConns, float64(stat.TotalConns()))
	gauge(descMaxConns, float64(stat.MaxConns()))
	gauge(descConstructingConns, float64(stat.ConstructingConns()))

	counter(descAcquireCount, float64(stat.AcquireCount()))
	counter(descAcquireDuration, stat.AcquireDuration().Seconds())
	counter(descCanceledAcquires, float64(stat.CanceledAcquireCount()))
	counter(descEmptyAcquires, float64(stat.EmptyAcquireCount()))
	counter(descNewConns, float64(stat.NewConnsCount()))
	counter(descMaxLifetimeDestroy, float64(stat.MaxLifetimeDestroyCount()))
	counter(descMaxIdleDestroy, float64(stat.MaxIdleDestroyCount()))
}

// RegisterPoolMetrics registers a pool collector with the default registry.
func RegisterPoolMetrics(pool *pgxpool.Pool, service string) {
	prometheus.MustRegister(NewPoolStatsCollector(pool, service))
}
