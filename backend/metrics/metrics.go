package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AlertsSubmitted counts detections by result: created, duplicate or invalid.
	AlertsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firealert",
		Name:      "alerts_submitted_total",
		Help:      "Total number of detections submitted, labeled by result.",
	}, []string{"result"})

	// Verifications counts completed verifications by verdict: fire, no_fire or failed.
	Verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firealert",
		Name:      "verifications_total",
		Help:      "Total number of background verifications, labeled by verdict.",
	}, []string{"verdict"})

	GateOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firealert",
		Name:      "gate_outcomes_total",
		Help:      "Total number of confirm-and-send calls, labeled by outcome.",
	}, []string{"outcome"})

	CleanupDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "firealert",
		Name:      "cleanup_deleted_total",
		Help:      "Total number of alerts removed by the cooldown sweep.",
	})

	VerificationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "firealert",
		Name:      "verification_duration_seconds",
		Help:      "Time spent in the verification client per alert.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
	})
)

// Register registers firealert metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AlertsSubmitted,
			Verifications,
			GateOutcomes,
			CleanupDeleted,
			VerificationDurationSeconds,
		)
	})
}
