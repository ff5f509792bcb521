// Package metrics exposes Prometheus instrumentation for runs, grading and
// the XP ledger.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every gradebox collector. It is separate from the global
// default registry so tests and embedders do not collide.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_runs_total",
			Help: "Total number of sandbox runs by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradebox_run_duration_seconds",
			Help:    "Wall time of sandbox runs",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"backend"},
	)

	checksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_checks_total",
			Help: "Total number of evaluated check rules",
		},
		[]string{"type", "result"},
	)

	xpAwardsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_xp_awards_total",
			Help: "XP award attempts by status",
		},
		[]string{"status"},
	)

	channelDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_channel_dropped_total",
			Help: "Inbound sandbox messages dropped by the output channel",
		},
		[]string{"reason"},
	)

	hostsActive = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gradebox_hosts_active",
		Help: "Number of open sandbox hosts",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RunFinished records one completed run.
func RunFinished(backend, outcome string, elapsed time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// CheckEvaluated records one rule result.
func CheckEvaluated(ruleType string, pass bool) {
	result := "fail"
	if pass {
		result = "pass"
	}
	checksTotal.WithLabelValues(ruleType, result).Inc()
}

// XPAward records the outcome of one award attempt.
func XPAward(status string) {
	xpAwardsTotal.WithLabelValues(status).Inc()
}

// ChannelDropped records a rejected inbound message.
func ChannelDropped(reason string) {
	channelDropped.WithLabelValues(reason).Inc()
}

// HostOpened and HostClosed track open hosts.
func HostOpened() { hostsActive.Inc() }
func HostClosed() { hostsActive.Dec() }

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
