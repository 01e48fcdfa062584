package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks verification activity. A nil *Metrics is a no-op.
type Metrics struct {
	started      prometheus.Counter
	outcomes     *prometheus.CounterVec
	pollAttempts *prometheus.CounterVec
	duration     prometheus.Histogram
	inFlight     prometheus.Gauge
	panics       prometheus.Counter
	storeSize    prometheus.Gauge
	storeOps     *prometheus.GaugeVec
}

// NewMetrics registers verification collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		started: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailverify_tests_started_total",
			Help: "Total number of mailbox verification tests started",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailverify_tests_completed_total",
			Help: "Completed verification tests by result",
		}, []string{"result"}),
		pollAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailverify_imap_poll_attempts_total",
			Help: "IMAP poll attempts by result",
		}, []string{"result"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailverify_test_duration_seconds",
			Help:    "Wall-clock duration of verification tests",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 75, 90},
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailverify_tests_in_flight",
			Help: "Verification tests currently running",
		}),
		panics: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailverify_test_panics_total",
			Help: "Verification tests aborted by an unexpected panic",
		}),
		storeSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailverify_result_store_entries",
			Help: "Outcomes currently held by the result store",
		}),
		storeOps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mailverify_result_store_operations",
			Help: "Cumulative result store operations by type",
		}, []string{"op"}),
	}
}

func (m *Metrics) testStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.inFlight.Inc()
}

func (m *Metrics) testFinished(result string, seconds float64) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.outcomes.WithLabelValues(result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) testPanicked() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

func (m *Metrics) pollAttempt(result string) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(result).Inc()
}

// ObserveStore publishes a result store snapshot.
func (m *Metrics) ObserveStore(st MemoryStoreStats) {
	if m == nil {
		return
	}
	m.storeSize.Set(float64(st.Size))
	m.storeOps.WithLabelValues("put").Set(float64(st.Puts))
	m.storeOps.WithLabelValues("hit").Set(float64(st.Hits))
	m.storeOps.WithLabelValues("miss").Set(float64(st.Misses))
	m.storeOps.WithLabelValues("eviction").Set(float64(st.Evictions))
}
