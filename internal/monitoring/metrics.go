package monitoring

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "passive_radar"

var DocumentsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ingest",
	Name:      "documents_published",
	Help:      "Complete documents published to a channel slot.",
}, []string{"channel"})

var DocumentsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ingest",
	Name:      "documents_rejected",
	Help:      "Documents discarded before publication, by reason.",
}, []string{"channel", "reason"})

var BytesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ingest",
	Name:      "bytes_received",
}, []string{"channel"})

var ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "ingest",
	Name:      "connections_active",
}, []string{"channel"})

var CorrelationPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "association",
	Name:      "passes",
	Help:      "Detection documents handled by the correlator, by outcome.",
}, []string{"outcome"})

var CorrelationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "association",
	Name:      "pass_duration_seconds",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
})

var AircraftRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "adsb",
	Name:      "refreshes",
}, []string{"result"})

var AircraftCached = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "adsb",
	Name:      "aircraft_cached",
})

var StashUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "stash",
	Name:      "updates",
}, []string{"window", "result"})

// Collectors lists every collector defined by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		DocumentsPublished,
		DocumentsRejected,
		BytesReceived,
		ConnectionsActive,
		CorrelationPasses,
		CorrelationDuration,
		AircraftRefreshes,
		AircraftCached,
		StashUpdates,
	}
}

// Register adds all collectors to reg. Collectors that are already
// registered are skipped so Register can be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
