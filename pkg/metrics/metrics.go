// Package metrics exposes Prometheus collectors for the refresh pipeline and watch router.
// All Recorder methods are safe to call on a nil *Recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pgboard"

// Refresh outcomes
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder holds every collector the dashboard publishes
type Recorder struct {
	refreshes        *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	lastRefresh      prometheus.Gauge
	fetchErrors      *prometheus.CounterVec
	fetchedObjects   *prometheus.GaugeVec
	invalidObjects   *prometheus.CounterVec
	watchEvents      *prometheus.CounterVec
	watchReconnects  *prometheus.CounterVec
	watchStoreSize   *prometheus.GaugeVec
	enrichFailures   *prometheus.CounterVec
	websocketClients prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Snapshot refresh attempts by result",
		}, []string{"result"}),
		refreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent building a snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		lastRefresh: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last published snapshot",
		}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "List calls that failed and left a kind empty",
		}, []string{"cluster", "kind"}),
		fetchedObjects: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetched_objects",
			Help:      "Objects returned by the last list call per kind",
		}, []string{"cluster", "kind"}),
		invalidObjects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_objects_total",
			Help:      "Objects rejected by validation",
		}, []string{"cluster", "kind"}),
		watchEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Watch events applied to the resource store",
		}, []string{"cluster", "kind", "type"}),
		watchReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_reconnects_total",
			Help:      "Watch streams re-established after termination",
		}, []string{"cluster", "kind"}),
		watchStoreSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_store_objects",
			Help:      "Objects held in the watch store per cluster",
		}, []string{"cluster"}),
		enrichFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_failures_total",
			Help:      "Failed enrichment probes by probe name",
		}, []string{"probe"}),
		websocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients",
		}),
	}
}

// ObserveRefresh records one refresh attempt
func (r *Recorder) ObserveRefresh(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.refreshDuration.Observe(d.Seconds())
	if err != nil {
		r.refreshes.WithLabelValues(ResultFailure).Inc()
		return
	}
	r.refreshes.WithLabelValues(ResultSuccess).Inc()
}

// SetLastRefresh records the publish time of the current snapshot
func (r *Recorder) SetLastRefresh(t time.Time) {
	if r == nil {
		return
	}
	r.lastRefresh.Set(float64(t.Unix()) + float64(t.Nanosecond())/1e9)
}

// FetchError counts a failed list call
func (r *Recorder) FetchError(cluster, kind string) {
	if r == nil {
		return
	}
	r.fetchErrors.WithLabelValues(cluster, kind).Inc()
}

// Fetched records how many valid objects a list call returned
func (r *Recorder) Fetched(cluster, kind string, n int) {
	if r == nil {
		return
	}
	r.fetchedObjects.WithLabelValues(cluster, kind).Set(float64(n))
}

// InvalidObject counts an object rejected by validation
func (r *Recorder) InvalidObject(cluster, kind string) {
	if r == nil {
		return
	}
	r.invalidObjects.WithLabelValues(cluster, kind).Inc()
}

// WatchEvent counts a watch event applied to the store
func (r *Recorder) WatchEvent(cluster, kind, eventType string) {
	if r == nil {
		return
	}
	r.watchEvents.WithLabelValues(cluster, kind, eventType).Inc()
}

// WatchReconnect counts a re-established watch stream
func (r *Recorder) WatchReconnect(cluster, kind string) {
	if r == nil {
		return
	}
	r.watchReconnects.WithLabelValues(cluster, kind).Inc()
}

// WatchStoreSize records the number of objects held for a cluster
func (r *Recorder) WatchStoreSize(cluster string, n int) {
	if r == nil {
		return
	}
	r.watchStoreSize.WithLabelValues(cluster).Set(float64(n))
}

// EnrichFailure counts a failed enrichment probe
func (r *Recorder) EnrichFailure(probe string) {
	if r == nil {
		return
	}
	r.enrichFailures.WithLabelValues(probe).Inc()
}

// WebsocketClients records the number of connected websocket clients
func (r *Recorder) WebsocketClients(n int) {
	if r == nil {
		return
	}
	r.websocketClients.Set(float64(n))
}
