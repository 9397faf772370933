package mediasvc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mkrupp/mediacache/internal/domain"
)

// Eviction pass labels.
const (
	passUploaded = "uploaded"
	passForced   = "forced"
)

// Upload result labels.
const (
	resultSuccess = "success"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

// Metrics holds the Prometheus collectors of the media cache.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheBytes   prometheus.Gauge
	cacheEntries prometheus.Gauge
	evictions    *prometheus.CounterVec
	uploads      *prometheus.CounterVec
	syncDuration prometheus.Histogram
}

// NewMetrics creates the media cache collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mediacache_cache_bytes",
			Help: "Total size of the stored payloads in bytes.",
		}),
		cacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mediacache_cache_entries",
			Help: "Number of cached media records.",
		}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacache_evictions_total",
			Help: "Number of evicted media records by eviction pass.",
		}, []string{"pass"}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacache_sync_uploads_total",
			Help: "Number of sync attempts by result.",
		}, []string{"result"}),
		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediacache_sync_duration_seconds",
			Help:    "Duration of sync passes in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
	}
}

func (m *Metrics) observeStats(stats domain.CacheStats) {
	if m == nil {
		return
	}

	m.cacheBytes.Set(float64(stats.TotalSize))
	m.cacheEntries.Set(float64(stats.EntryCount))
}

func (m *Metrics) addEvictions(pass string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.evictions.WithLabelValues(pass).Add(float64(n))
}

func (m *Metrics) observeSync(result domain.SyncResult, seconds float64) {
	if m == nil {
		return
	}

	m.uploads.WithLabelValues(resultSuccess).Add(float64(result.Success))
	m.uploads.WithLabelValues(resultFailed).Add(float64(result.Failed))
	m.uploads.WithLabelValues(resultSkipped).Add(float64(result.Skipped))
	m.syncDuration.Observe(seconds)
}
