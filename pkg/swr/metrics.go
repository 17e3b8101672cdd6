package swr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	servesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seoshield_serves_total",
		Help: "Total served requests by source",
	}, []string{"source"}) // "cache_fresh", "cache_stale", "cache_bot", "render", "passthrough", "debug"

	rendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seoshield_renders_total",
		Help: "Total render calls by outcome",
	}, []string{"outcome"}) // "success", "attempt_failed", "failure"

	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seoshield_render_duration_seconds",
		Help:    "Successful render duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	revalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seoshield_revalidations_total",
		Help: "Total background revalidations by outcome",
	}, []string{"outcome"}) // "success", "failure", "deduplicated"

	trafficReportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seoshield_traffic_report_failures_total",
		Help: "Total traffic sink reports that panicked or failed",
	})
)
