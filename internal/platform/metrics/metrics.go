package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manifest kinds for IncManifestsServed.
const (
	ManifestMaster = "master"
	ManifestMedia  = "media"
)

// Metrics holds Prometheus counters and gauges for the vod2live server.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	sessionsCreated     prometheus.Counter
	activeSessions      prometheus.Gauge
	cachedAssets        prometheus.Gauge
	manifestsServed     *prometheus.CounterVec
	assetLoadsTotal     *prometheus.CounterVec
	assetLoadDurationMs prometheus.Histogram
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod2live_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod2live_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	sessionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod2live_sessions_created_total",
		Help: "Total number of playback sessions created",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vod2live_active_sessions",
		Help: "Number of sessions that have not expired",
	})
	cachedAssets := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vod2live_cached_assets",
		Help: "Number of loaded assets held in memory",
	})
	manifestsServed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vod2live_manifests_served_total",
		Help: "Total number of playlists served, by kind",
	}, []string{"kind"})
	assetLoadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vod2live_asset_loads_total",
		Help: "Total number of asset loads, by result",
	}, []string{"result"})
	assetLoadDurationMs := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vod2live_asset_load_duration_ms",
		Help:    "Time to fetch and index an asset in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		sessionsCreated,
		activeSessions,
		cachedAssets,
		manifestsServed,
		assetLoadsTotal,
		assetLoadDurationMs,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		sessionsCreated:     sessionsCreated,
		activeSessions:      activeSessions,
		cachedAssets:        cachedAssets,
		manifestsServed:     manifestsServed,
		assetLoadsTotal:     assetLoadsTotal,
		assetLoadDurationMs: assetLoadDurationMs,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSessionsCreated increments the sessions created counter.
func (m *Metrics) IncSessionsCreated() {
	m.sessionsCreated.Inc()
}

// IncManifestsServed increments the served playlist counter for kind.
func (m *Metrics) IncManifestsServed(kind string) {
	m.manifestsServed.WithLabelValues(kind).Inc()
}

// ObserveAssetLoad records one asset load and its duration.
func (m *Metrics) ObserveAssetLoad(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.assetLoadsTotal.WithLabelValues(result).Inc()
	m.assetLoadDurationMs.Observe(float64(d.Milliseconds()))
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// SetCachedAssets sets the cached assets gauge.
func (m *Metrics) SetCachedAssets(n int) {
	m.cachedAssets.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
