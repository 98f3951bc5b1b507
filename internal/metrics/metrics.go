// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	runsTotalCounter            *prometheus.CounterVec
	stepsTotalCounter           *prometheus.CounterVec
	notificationsTotalCounter   *prometheus.CounterVec
	workflowMatchesTotalCounter *prometheus.CounterVec
	sweepDurationMetric         *prometheus.HistogramVec
	runClaimLatencyMetric       prometheus.Histogram
	httpRequestsTotalCounter    *prometheus.CounterVec
	httpRequestDurationMetric   *prometheus.HistogramVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		runsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runs_total",
				Help: "Total number of automation run status transitions by status.",
			},
			[]string{"status"},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steps_total",
				Help: "Total number of executed workflow steps by action and result.",
			},
			[]string{"action", "result"},
		)

		notificationsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Total number of scheduled notification send attempts by result.",
			},
			[]string{"result"},
		)

		workflowMatchesTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_matches_total",
				Help: "Total number of workflows matched by events, by trigger type.",
			},
			[]string{"trigger"},
		)

		sweepDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sweep_duration_seconds",
				Help:    "Duration of automation and notification sweeps in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sweep"},
		)

		runClaimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "run_claim_latency_seconds",
				Help:    "Latency of due-run claim queries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		httpRequestsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin API requests by method, route and status class.",
			},
			[]string{"method", "route", "status"},
		)

		httpRequestDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of admin API requests in seconds by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)

		prometheus.MustRegister(
			runsTotalCounter,
			stepsTotalCounter,
			notificationsTotalCounter,
			workflowMatchesTotalCounter,
			sweepDurationMetric,
			runClaimLatencyMetric,
			httpRequestsTotalCounter,
			httpRequestDurationMetric,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.RunStatus{
			domain.RunRunning,
			domain.RunSuspended,
			domain.RunCompleted,
			domain.RunFailed,
			domain.RunCanceled,
		} {
			runsTotalCounter.WithLabelValues(string(status))
		}

		for _, result := range []string{"sent", "failed"} {
			notificationsTotalCounter.WithLabelValues(result)
		}
	})
}

func IncRunStatus(status domain.RunStatus) {
	Init()
	runsTotalCounter.WithLabelValues(string(status)).Inc()
}

func IncStep(action domain.ActionType, result string) {
	Init()
	stepsTotalCounter.WithLabelValues(string(action), result).Inc()
}

func IncNotification(result string) {
	Init()
	notificationsTotalCounter.WithLabelValues(result).Inc()
}

func IncWorkflowMatch(trigger domain.TriggerType) {
	Init()
	workflowMatchesTotalCounter.WithLabelValues(string(trigger)).Inc()
}

func ObserveSweepDuration(sweep string, d time.Duration) {
	Init()
	sweepDurationMetric.WithLabelValues(sweep).Observe(d.Seconds())
}

func ObserveRunClaimLatency(d time.Duration) {
	Init()
	runClaimLatencyMetric.Observe(d.Seconds())
}

// ObserveHTTPRequest records one request. route is the matched route pattern,
// never the raw path, so ids do not explode label cardinality.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	Init()
	httpRequestsTotalCounter.WithLabelValues(method, route, statusClass(status)).Inc()
	httpRequestDurationMetric.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
