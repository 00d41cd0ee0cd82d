// Package metrics holds the Prometheus instruments for the sync service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every instrument the sync pipeline reports to.
type Registry struct {
	registry *prometheus.Registry

	// SyncRuns counts finished sync jobs by exchange and outcome.
	SyncRuns *prometheus.CounterVec

	// SyncDuration measures wall time of whole sync jobs.
	SyncDuration *prometheus.HistogramVec

	// TradesInserted counts new rows written by sync jobs.
	TradesInserted *prometheus.CounterVec

	// TradesDeduped counts trades dropped because they were already stored.
	TradesDeduped *prometheus.CounterVec

	// ActiveSyncs tracks currently running jobs.
	ActiveSyncs prometheus.Gauge

	// SchedulerFirings counts scheduler ticks, including misfires run late.
	SchedulerFirings *prometheus.CounterVec
}

// NewRegistry creates all instruments on a private Prometheus registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesync_sync_runs_total",
				Help: "Finished sync jobs by exchange and outcome",
			},
			[]string{"exchange", "outcome"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradesync_sync_duration_seconds",
				Help:    "Duration of whole sync jobs in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"exchange"},
		),
		TradesInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesync_trades_inserted_total",
				Help: "New canonical trades written by sync jobs",
			},
			[]string{"exchange"},
		),
		TradesDeduped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesync_trades_deduped_total",
				Help: "Trades skipped because their id was already stored",
			},
			[]string{"exchange"},
		),
		ActiveSyncs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradesync_active_syncs",
				Help: "Sync jobs currently running",
			},
		),
		SchedulerFirings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesync_scheduler_firings_total",
				Help: "Scheduler ticks by kind (on_time, misfire, skipped)",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(r.SyncRuns, r.SyncDuration, r.TradesInserted, r.TradesDeduped, r.ActiveSyncs, r.SchedulerFirings)
	return r
}

// Handler exposes the registry for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
