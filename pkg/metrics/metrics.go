// Package metrics is the process-wide Prometheus registry: one
// registerer every other package's counters/histograms attach to, so
// the diagnostics endpoint (pkg/diagnostics) and cmd/serve.go expose a
// single /metrics surface instead of each package reaching for the
// global prometheus.DefaultRegisterer on its own. It is grounded on
// the teacher's own metrics.go pattern (package-level vars registered
// once in an init/registerMetrics call), generalised from a single
// package's counters to a shared Registry value components are handed
// explicitly.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the shared Prometheus registerer plus the acquisition-
// specific collectors diagnostics tooling needs: how many acquires
// ran, how many were served from an existing compatible install, how
// many graveyard sweeps ran and what they reclaimed.
type Registry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer // for pkg/diagnostics' /metrics handler

	AcquireTotal          *prometheus.CounterVec
	AcquireDuration       *prometheus.HistogramVec
	AcquireReusedExisting prometheus.Counter
	GraveyardSweepRuns    prometheus.Counter
	GraveyardReclaimed    prometheus.Counter
	TrackedInstalls       prometheus.Gauge
}

var (
	registerOnce sync.Once
	shared       *Registry
)

// New builds a Registry backed by reg. Pass prometheus.NewRegistry()
// in tests/cmd/serve.go to avoid polluting the process-wide default
// registry across repeated construction.
func New(reg prometheus.Registerer) *Registry {
	gatherer, _ := reg.(prometheus.Gatherer)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := &Registry{
		Registerer: reg,
		Gatherer:   gatherer,
		AcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotnet_acquire_requests_total",
			Help: "Acquire calls by outcome.",
		}, []string{"outcome"}),
		AcquireDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dotnet_acquire_duration_seconds",
			Help:    "Acquire call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		AcquireReusedExisting: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dotnet_acquire_reused_existing_total",
			Help: "Acquire calls satisfied by an already-tracked compatible install.",
		}),
		GraveyardSweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dotnet_acquire_graveyard_sweep_runs_total",
			Help: "Periodic graveyard drain runs.",
		}),
		GraveyardReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dotnet_acquire_graveyard_reclaimed_total",
			Help: "Graveyard entries deleted across all drains.",
		}),
		TrackedInstalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dotnet_acquire_tracked_installs",
			Help: "Current number of installId records with at least one owner.",
		}),
	}
	reg.MustRegister(
		r.AcquireTotal,
		r.AcquireDuration,
		r.AcquireReusedExisting,
		r.GraveyardSweepRuns,
		r.GraveyardReclaimed,
		r.TrackedInstalls,
	)
	return r
}

// Shared returns a process-wide Registry backed by the default
// Prometheus registerer, constructing it at most once.
func Shared() *Registry {
	registerOnce.Do(func() {
		shared = New(prometheus.DefaultRegisterer)
	})
	return shared
}

// NewForTest builds a Registry on a fresh, unregistered registry so
// repeated test construction never collides with the process-wide
// default.
func NewForTest() *Registry {
	return New(prometheus.NewRegistry())
}
