package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"cvrptw/internal/metrics"
)

// Routes returns the service handler with logging and metrics middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Instances
	mux.HandleFunc("POST /v1/instances", s.CreateInstanceHandler)
	mux.HandleFunc("GET /v1/instances/{id}", s.InstanceHandler)

	// Runs
	mux.HandleFunc("POST /v1/runs", s.CreateRunHandler)
	mux.HandleFunc("GET /v1/runs", s.RunsHandler)
	mux.HandleFunc("GET /v1/runs/{id}", s.RunHandler)
	mux.HandleFunc("GET /v1/runs/{id}/events/stream", s.RunEventsStreamHandler)
	mux.HandleFunc("GET /v1/runs/{id}/ws", s.RunWSHandler)
	mux.HandleFunc("GET /v1/config", s.ConfigHandler)

	// Subscriptions
	mux.HandleFunc("POST /v1/subscriptions", s.requireAdmin(s.SubscriptionsHandler))
	mux.HandleFunc("GET /v1/subscriptions", s.requireAdmin(s.SubscriptionsHandler))
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.requireAdmin(s.SubscriptionByIDHandler))

	// Admin
	mux.HandleFunc("GET /v1/admin/webhook-deliveries", s.requireAdmin(s.WebhookDeliveriesHandler))
	mux.HandleFunc("POST /v1/admin/webhook-deliveries/{id}/retry", s.requireAdmin(s.WebhookDeliveryRetryHandler))
	mux.HandleFunc("GET /v1/admin/stage-metrics", s.requireAdmin(s.StageMetricsHandler))
	mux.HandleFunc("GET /debug/info", s.requireAdmin(s.DebugHandler))

	// Health and metrics
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return logMiddleware(mux)
}

// statusWriter captures the final HTTP status code and number of bytes written.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Record implicit 200 responses when handlers write without calling WriteHeader.
func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Flush and Hijack keep event streams and websocket upgrades working
// behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if w.status == 0 {
			w.status = http.StatusOK
		}
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// logMiddleware logs each request and records it in the HTTP metrics under
// its route pattern.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		code := strconv.Itoa(sw.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())

		log.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.RequestURI(),
			"status": sw.status,
			"bytes":  sw.bytes,
			"dur_ms": dur.Milliseconds(),
			"remote": r.RemoteAddr,
		}).Info("http request")
	})
}
