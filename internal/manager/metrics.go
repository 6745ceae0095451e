package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coarank"

// Metrics are the prometheus collectors updated by full runs.
type Metrics struct {
	Certificates      *prometheus.CounterVec
	ProviderRequests  *prometheus.CounterVec
	ExtractionSeconds *prometheus.HistogramVec
	RunSeconds        prometheus.Histogram
	LastRunTimestamp  prometheus.Gauge
	RankedSuppliers   prometheus.Gauge
	RunsTotal         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Certificates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_total",
			Help:      "Certificates processed by outcome.",
		}, []string{"outcome"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Extraction provider calls by provider and result.",
		}, []string{"provider", "result"}),
		ExtractionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Latency of one provider extraction.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 90},
		}, []string{"provider"}),
		RunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of full update runs.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last full update finished.",
		}),
		RankedSuppliers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ranked_suppliers",
			Help:      "Suppliers in the latest ranking snapshot.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Full update runs by final stage.",
		}, []string{"stage"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Certificates,
			m.ProviderRequests,
			m.ExtractionSeconds,
			m.RunSeconds,
			m.LastRunTimestamp,
			m.RankedSuppliers,
			m.RunsTotal,
		)
	}
	return m
}
