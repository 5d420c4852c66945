// Package metrics exposes the pipeline's cross-cutting observability
// surface via prometheus/client_golang (SPEC_FULL §11, cross-cutting
// observability row), grounded on the teacher's use of the same library in
// server/internal/api's /metrics endpoint. Stage code never imports this
// package's collectors directly — the maintenance sweep polls component
// state (queue depths, DLQ depths, geocode counters) and pushes it through
// the functions here. JobsProcessed, ReconcileRetries and
// ConstraintViolations are registered but nothing updates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/geocode"
)

// Registry bundles every gauge/counter the pipeline exports. Construct one
// per process and register it with a prometheus.Registerer at startup.
type Registry struct {
	QueueDepth      *prometheus.GaugeVec
	QueueDLQDepth   *prometheus.GaugeVec
	JobsProcessed   *prometheus.CounterVec
	GeocodeAttempts *prometheus.GaugeVec
	GeocodeSuccess  *prometheus.GaugeVec
	GeocodeFailures *prometheus.GaugeVec
	GeocodeCacheHit *prometheus.GaugeVec
	BreakerTrips    *prometheus.GaugeVec
	ReconcileRetries prometheus.Counter
	ConstraintViolations prometheus.Counter
}

// New builds a Registry with all collectors created but not yet registered.
func New() *Registry {
	return &Registry{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppr",
			Name:      "queue_depth",
			Help:      "Number of ready jobs waiting on a named queue.",
		}, []string{"queue"}),
		QueueDLQDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppr",
			Name:      "queue_dlq_depth",
			Help:      "Number of jobs parked in a named queue's dead-letter list.",
		}, []string{"queue"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppr",
			Name:      "jobs_processed_total",
			Help:      "Jobs completed per queue and terminal status.",
		}, []string{"queue", "status"}),
		GeocodeAttempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppr",
			Name:      "geocode_attempts_total",
			Help:      "Geocoding attempts per provider.",
		}, []string{"provider"}),
		GeocodeSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppr",
			Name:      "geocode_successes_total",
			Help:      "Successful geocoding calls per provider.",
		}, []string{"provider"}),
		GeocodeFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppr",
			Name:      "geocode_failures_total",
			Help:      "Failed geocoding calls per provider.",
		}, []string{"provider"}),
		GeocodeCacheHit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppr",
			Name:      "geocode_cache_hits_total",
			Help:      "Geocoding cache hits per provider chain.",
		}, []string{"provider"}),
		BreakerTrips: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppr",
			Name:      "geocode_breaker_trips_total",
			Help:      "Circuit breaker open transitions per provider.",
		}, []string{"provider"}),
		ReconcileRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ppr",
			Name:      "reconcile_retries_total",
			Help:      "Advisory-lock retry attempts across all Reconciler match keys.",
		}),
		ConstraintViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ppr",
			Name:      "reconcile_constraint_violations_total",
			Help:      "Row-level conflicts logged after the Reconciler exhausted its retry budget.",
		}),
	}
}

// Collectors returns every collector for bulk registration.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.QueueDepth, r.QueueDLQDepth, r.JobsProcessed,
		r.GeocodeAttempts, r.GeocodeSuccess, r.GeocodeFailures, r.GeocodeCacheHit, r.BreakerTrips,
		r.ReconcileRetries, r.ConstraintViolations,
	}
}

// SampleGeocodeCounters copies a geocode.Set provider's live counters into
// the gauge vectors. Called periodically by the maintenance sweep — the
// counters themselves are plain ints updated inline by the geocode package,
// not prometheus collectors, so exporting them is a pull-based snapshot.
func (r *Registry) SampleGeocodeCounters(providerName string, c *geocode.Counters) {
	if c == nil {
		return
	}
	r.GeocodeAttempts.WithLabelValues(providerName).Set(float64(c.Attempts))
	r.GeocodeSuccess.WithLabelValues(providerName).Set(float64(c.Successes))
	r.GeocodeFailures.WithLabelValues(providerName).Set(float64(c.Failures))
	r.GeocodeCacheHit.WithLabelValues(providerName).Set(float64(c.CacheHits))
	r.BreakerTrips.WithLabelValues(providerName).Set(float64(c.BreakerTrips))
}
