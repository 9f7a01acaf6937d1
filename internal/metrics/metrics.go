package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strautocoach"

// Manager holds every collector the service reports.
type Manager struct {
	// counters
	CounterRequests    *prometheus.CounterVec
	CounterIngestions  *prometheus.CounterVec
	CounterFetches     *prometheus.CounterVec
	CounterJobAttempts *prometheus.CounterVec
	CounterImportItems *prometheus.CounterVec

	// gauges
	GaugeRateUsage *prometheus.GaugeVec
	GaugeRateLimit *prometheus.GaugeVec

	// histograms
	HistRequestDuration   prometheus.Histogram
	HistIngestionDuration prometheus.Histogram
}

func NewTestManager() *Manager {
	return NewManager("test", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("test", reg), reg
}

func NewManager(subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	return &Manager{
		CounterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "The total number of incoming requests",
		}, []string{"method", "status"}),
		CounterIngestions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingestions_total",
			Help:      "Activity ingestions by outcome",
		}, []string{"outcome"}),
		CounterFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "best_effort_fetches_total",
			Help:      "Streams and laps fetches by channel and result",
		}, []string{"channel", "status"}),
		CounterJobAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_attempts_total",
			Help:      "Background job attempts by job name and outcome",
		}, []string{"job", "outcome"}),
		CounterImportItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "import_items_total",
			Help:      "Historical import items by outcome",
		}, []string{"outcome"}),
		GaugeRateUsage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "strava_rate_usage",
			Help:      "Strava API requests used in the current window",
		}, []string{"window"}),
		GaugeRateLimit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "strava_rate_limit",
			Help:      "Strava API request limit per window",
		}, []string{"window"}),
		HistRequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Total duration of requests in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		HistIngestionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingestion_duration_seconds",
			Help:      "Duration of a single ingestion attempt in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

// SetRateUsage records the usage and limits reported by the last Strava
// response.
func (m *Manager) SetRateUsage(shortUsage, shortLimit, dailyUsage, dailyLimit int) {
	m.GaugeRateUsage.WithLabelValues("short").Set(float64(shortUsage))
	m.GaugeRateUsage.WithLabelValues("daily").Set(float64(dailyUsage))
	m.GaugeRateLimit.WithLabelValues("short").Set(float64(shortLimit))
	m.GaugeRateLimit.WithLabelValues("daily").Set(float64(dailyLimit))
}
