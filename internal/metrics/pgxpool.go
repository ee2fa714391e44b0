package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes options database pool statistics as
// Prometheus gauges. It must be called at most once per process.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sitebackup_options_pool_acquired_conns",
			Help: "Number of currently acquired connections in the options pool",
		}, func() float64 {
			return float64(pool.Stat().AcquiredConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sitebackup_options_pool_max_conns",
			Help: "Maximum number of connections in the options pool",
		}, func() float64 {
			return float64(pool.Stat().MaxConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sitebackup_options_pool_total_conns",
			Help: "Total number of connections in the options pool",
		}, func() float64 {
			return float64(pool.Stat().TotalConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sitebackup_options_pool_idle_conns",
			Help: "Number of idle connections in the options pool",
		}, func() float64 {
			return float64(pool.Stat().IdleConns())
		}),
	)
}
