// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiscoveryEvents counts tree events by kind (FOUND, LOST, MODIFIED, realm events)
	DiscoveryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightdeck_discovery_events_total",
		Help: "Discovery tree events by kind",
	}, []string{"kind"})

	// LiveTargets tracks the number of targets per realm
	LiveTargets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flightdeck_discovery_targets",
		Help: "Live targets per realm",
	}, []string{"realm"})

	// PluginRegistrations counts plugin registrations by outcome
	PluginRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightdeck_plugin_registrations_total",
		Help: "Discovery plugin registrations by result (registered, refreshed, deregistered, evicted)",
	}, []string{"result"})

	// RuleActivations counts rule activations on targets by result
	RuleActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightdeck_rule_activations_total",
		Help: "Rule activations on targets by result",
	}, []string{"rule", "result"})

	// RecordingOperations counts recording commands by operation and result
	RecordingOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightdeck_recording_operations_total",
		Help: "Recording commands issued to targets by operation and result",
	}, []string{"operation", "result"})

	// CredentialMatches tracks matching targets per stored credential
	CredentialMatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flightdeck_credential_matching_targets",
		Help: "Targets matched by each stored credential",
	}, []string{"credential"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightdeck_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flightdeck_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// Middleware records request counts and latency per matched route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
