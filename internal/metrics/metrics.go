// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts scans by classification kind.
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbin_scans_total",
			Help: "Scanned codes by classification kind.",
		},
		[]string{"kind"},
	)

	// ActionsTotal counts action runs by action name and result.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbin_actions_total",
			Help: "Actions run from scans, by action and result.",
		},
		[]string{"action", "result"},
	)

	// SessionsOpened counts scan sessions opened.
	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanbin_sessions_opened_total",
		Help: "Scan sessions opened.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbin_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanbin_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
