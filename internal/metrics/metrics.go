// Package metrics exposes Prometheus counters and gauges for the put
// verifier and the locations reconciler, registered as a direct dependency
// since a long-running node is exactly the kind of service that benefits
// from scrapeable counters and histograms.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// PutResult labels the outcome of a completed put verification.
type PutResult string

const (
	PutSuccess  PutResult = "success"
	PutFailure  PutResult = "failure"
	PutConflict PutResult = "conflict"
)

// Registry bundles all Duskmesh metrics behind a single prometheus.Registerer,
// so cmd/node can register them once and pass this struct down to
// internal/putverify and internal/reconcile.
type Registry struct {
	PutTotal        *prometheus.CounterVec
	PutRetriesTotal prometheus.Counter
	ReconcileAlive  prometheus.Gauge
	MasterElections prometheus.Counter
	ReconcileMillis prometheus.Histogram
}

// New creates and registers a fresh Registry against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		PutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duskmesh",
			Name:      "put_total",
			Help:      "Completed put verifications by outcome.",
		}, []string{"result"}),
		PutRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duskmesh",
			Name:      "put_retries_total",
			Help:      "Put re-issues triggered by transient failure.",
		}),
		ReconcileAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duskmesh",
			Name:      "reconcile_alive_peers",
			Help:      "Peers found responsive by the most recent reconciliation pass.",
		}),
		MasterElections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duskmesh",
			Name:      "master_elections_total",
			Help:      "Times this node was elected master for the shared message queue.",
		}),
		ReconcileMillis: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duskmesh",
			Name:      "reconcile_duration_milliseconds",
			Help:      "Wall-clock duration of a reconciliation pass.",
			Buckets:   []float64{1, 5, 25, 100, 500, 2000, 10000, 30000},
		}),
	}

	reg.MustRegister(m.PutTotal, m.PutRetriesTotal, m.ReconcileAlive, m.MasterElections, m.ReconcileMillis)

	return m
}

// RecordPut increments the outcome counter for a completed put.
func (m *Registry) RecordPut(result PutResult) {
	if m == nil {
		return
	}
	m.PutTotal.WithLabelValues(string(result)).Inc()
}

// RecordRetry increments the put-retry counter.
func (m *Registry) RecordRetry() {
	if m == nil {
		return
	}
	m.PutRetriesTotal.Inc()
}

// RecordReconcile records the outcome of a finished reconciliation pass.
func (m *Registry) RecordReconcile(aliveCount int, isMaster bool, durationMillis float64) {
	if m == nil {
		return
	}
	m.ReconcileAlive.Set(float64(aliveCount))
	m.ReconcileMillis.Observe(durationMillis)
	if isMaster {
		m.MasterElections.Inc()
	}
}
