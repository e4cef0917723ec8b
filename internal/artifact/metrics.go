package artifact

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "clipforge"

// storeMetrics is registered on a registry owned by one LocalStore.
type storeMetrics struct {
	registry  *prometheus.Registry
	stored    prometheus.Counter
	evicted   *prometheus.CounterVec
	expired   prometheus.Counter
	served    *prometheus.CounterVec
	diskBytes prometheus.Gauge
	files     prometheus.Gauge
}

func newStoreMetrics() *storeMetrics {
	m := &storeMetrics{
		registry: prometheus.NewRegistry(),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "artifact_store",
			Name:      "stored_total",
			Help:      "Artifacts written to the local store",
		}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "artifact_store",
			Name:      "evicted_total",
			Help:      "Artifacts evicted by quota, by reason",
		}, []string{"reason"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "artifact_store",
			Name:      "expired_total",
			Help:      "Artifacts removed after their TTL elapsed",
		}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "artifact_store",
			Name:      "retrievals_total",
			Help:      "File retrieval requests by response status",
		}, []string{"status"}),
		diskBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "artifact_store",
			Name:      "disk_bytes",
			Help:      "Bytes currently held by the local store",
		}),
		files: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "artifact_store",
			Name:      "files",
			Help:      "Files currently held by the local store",
		}),
	}
	m.registry.MustRegister(m.stored, m.evicted, m.expired, m.served, m.diskBytes, m.files)
	return m
}

func (m *storeMetrics) observeUsage(bytes int64, files int) {
	m.diskBytes.Set(float64(bytes))
	m.files.Set(float64(files))
}

func (m *storeMetrics) observeServed(status int) {
	m.served.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *storeMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
