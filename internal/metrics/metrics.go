package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Runs counts finished pipeline runs by final status
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cvrptw_runs_total", Help: "Finished pipeline runs by status."},
		[]string{"status"},
	)
	// RunsInFlight is the number of runs currently executing
	RunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "cvrptw_runs_in_flight", Help: "Pipeline runs currently executing."},
	)
	// StageDuration records pipeline stage durations in seconds
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "cvrptw_stage_duration_seconds", Help: "Pipeline stage duration in seconds.", Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 60, 120, 300}},
		[]string{"constructor", "stage"},
	)
	// StageCost is the solution cost handed on by the last stage run
	StageCost = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "cvrptw_stage_cost", Help: "Solution cost after the most recent stage."},
		[]string{"constructor", "stage"},
	)
	// SolverOutcomes counts exact refinement outcomes by backend and result
	SolverOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cvrptw_solver_outcomes_total", Help: "Exact refinement outcomes by backend and result."},
		[]string{"backend", "outcome"},
	)
	// ModelSize tracks the size of encoded pseudo-Boolean models
	ModelSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "cvrptw_model_size", Help: "Encoded model size.", Buckets: prometheus.ExponentialBuckets(64, 4, 8)},
		[]string{"kind"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers the collectors on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(Runs, RunsInFlight, StageDuration, StageCost, SolverOutcomes, ModelSize)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
