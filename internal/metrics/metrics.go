// Package metrics holds the Prometheus collectors of the service. All
// recorders are safe to call on a nil *Metrics, which disables recording.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Results of a check write.
const (
	WriteResultWritten = "written"
	WriteResultNoop    = "noop"
	WriteResultError   = "error"
)

// Results of a combined state reload.
const (
	ReloadChanged   = "changed"
	ReloadUnchanged = "unchanged"
)

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	checkWrites     *prometheus.CounterVec
	lockFailures    *prometheus.CounterVec
	reloads         *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkgate_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkgate_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	checkWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkgate_check_writes_total",
		Help: "Check upserts by outcome",
	}, []string{"op", "result"})

	lockFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkgate_lock_failures_total",
		Help: "Compare-and-swap ref updates lost to a concurrent writer",
	}, []string{"store"})

	reloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkgate_combined_state_reloads_total",
		Help: "Combined check state reloads, by whether the cached value changed",
	}, []string{"result"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkgate_combined_state_lookups_total",
		Help: "Combined check state cache lookups by hit or miss",
	}, []string{"result"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkgate_notifications_total",
		Help: "Combined state change notifications by outcome",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "checkgate_goroutines",
		Help: "Number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, checkWrites, lockFailures, reloads,
		cacheLookups, notifications, goroutines)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		checkWrites:     checkWrites,
		lockFailures:    lockFailures,
		reloads:         reloads,
		cacheLookups:    cacheLookups,
		notifications:   notifications,
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, s).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(method, path, s).Inc()
}

// RecordCheckWrite counts an upsert outcome; op is "create" or "update".
func (m *Metrics) RecordCheckWrite(op, result string) {
	if m == nil {
		return
	}
	m.checkWrites.WithLabelValues(op, result).Inc()
}

// RecordLockFailure counts a lost compare-and-swap on the named store.
func (m *Metrics) RecordLockFailure(store string) {
	if m == nil {
		return
	}
	m.lockFailures.WithLabelValues(store).Inc()
}

// RecordReload counts a combined state reload.
func (m *Metrics) RecordReload(changed bool) {
	if m == nil {
		return
	}
	result := ReloadUnchanged
	if changed {
		result = ReloadChanged
	}
	m.reloads.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a combined state cache lookup.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordNotification counts a notification attempt.
func (m *Metrics) RecordNotification(err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}
