// Package metrics exposes prometheus collectors for sessions, frames,
// recording and runs. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds every collector of the process.
type Collector struct {
	registry *prometheus.Registry

	sessionsLive    *prometheus.GaugeVec
	poolRejections  *prometheus.CounterVec
	launchAttempts  *prometheus.CounterVec
	framesTotal     *prometheus.CounterVec
	pairsTotal      *prometheus.CounterVec
	watchdogActions *prometheus.CounterVec
	browsersLost    prometheus.Counter
	runsTotal       *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers all collectors on a fresh registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	c := &Collector{registry: reg}

	c.sessionsLive = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_live",
			Help:      "Live browser sessions by pool state",
		},
		[]string{"state"},
	)

	c.poolRejections = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_rejections_total",
			Help:      "Pool add or state changes rejected by policy",
		},
		[]string{"reason"},
	)

	c.launchAttempts = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_launch_attempts_total",
			Help:      "Browser launch attempts by result",
		},
		[]string{"result"},
	)

	c.framesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screencast_frames_total",
			Help:      "Screencast frames by outcome (emitted, coalesced, raw)",
		},
		[]string{"outcome"},
	)

	c.pairsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_pairs_total",
			Help:      "Recorded workflow pairs by outcome (merged, overshadowed, inserted, unresolved)",
		},
		[]string{"outcome"},
	)

	c.watchdogActions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_watchdog_actions_total",
			Help:      "Memory watchdog interventions by action",
		},
		[]string{"action"},
	)

	c.browsersLost = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_connections_lost_total",
			Help:      "Browser connections that dropped while their session was live",
		},
	)

	c.runsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished replay runs by status",
		},
		[]string{"status"},
	)

	c.stepsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpreted_steps_total",
			Help:      "Workflow steps executed during replay by action and result",
		},
		[]string{"action", "result"},
	)

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SessionOpened counts a session entering a pool state.
func (c *Collector) SessionOpened(state string) {
	if c == nil {
		return
	}
	c.sessionsLive.WithLabelValues(state).Inc()
}

// SessionClosed counts a session leaving a pool state.
func (c *Collector) SessionClosed(state string) {
	if c == nil {
		return
	}
	c.sessionsLive.WithLabelValues(state).Dec()
}

// PoolRejected counts a pool policy rejection.
func (c *Collector) PoolRejected(reason string) {
	if c == nil {
		return
	}
	c.poolRejections.WithLabelValues(reason).Inc()
}

// LaunchAttempt counts a browser launch attempt.
func (c *Collector) LaunchAttempt(ok bool) {
	if c == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	c.launchAttempts.WithLabelValues(result).Inc()
}

// Frame counts a screencast frame outcome.
func (c *Collector) Frame(outcome string) {
	if c == nil {
		return
	}
	c.framesTotal.WithLabelValues(outcome).Inc()
}

// Pair counts a recorded pair outcome.
func (c *Collector) Pair(outcome string) {
	if c == nil {
		return
	}
	c.pairsTotal.WithLabelValues(outcome).Inc()
}

// Watchdog counts a memory watchdog action.
func (c *Collector) Watchdog(action string) {
	if c == nil {
		return
	}
	c.watchdogActions.WithLabelValues(action).Inc()
}

// BrowserLost counts a browser connection dropped under a live session.
func (c *Collector) BrowserLost() {
	if c == nil {
		return
	}
	c.browsersLost.Inc()
}

// RunFinished counts a finished run.
func (c *Collector) RunFinished(status string) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(status).Inc()
}

// Step counts an interpreted step.
func (c *Collector) Step(action string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.stepsTotal.WithLabelValues(action, result).Inc()
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
