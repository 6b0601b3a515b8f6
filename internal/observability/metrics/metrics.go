package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics exposes counters/histograms for the coalescing engine.
type EngineMetrics struct {
	fragmentsTotal        *prometheus.CounterVec
	windowsSettledTotal   prometheus.Counter
	windowFragments       prometheus.Histogram
	dispatchesTotal       *prometheus.CounterVec
	janitorReclaimedTotal prometheus.Counter
	classifyFailuresTotal prometheus.Counter
	responderLatency      prometheus.Histogram
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		fragmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "fragments_total",
			Help:      "Total inbound fragments by classification kind",
		}, []string{"kind"}),
		windowsSettledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "windows_settled_total",
			Help:      "Total windows that settled after a quiet period",
		}),
		windowFragments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "window_fragment_count",
			Help:      "Fragments merged per settled window",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "dispatches_total",
			Help:      "Dispatch outcomes by action and status",
		}, []string{"action", "status"}),
		janitorReclaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "janitor_reclaimed_total",
			Help:      "Abandoned windows reclaimed by the janitor",
		}),
		classifyFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "classification_failures_total",
			Help:      "Malformed remote commands dropped at classification",
		}),
		responderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "responder_latency_seconds",
			Help:      "Latency of AI responder calls",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.fragmentsTotal,
		m.windowsSettledTotal,
		m.windowFragments,
		m.dispatchesTotal,
		m.janitorReclaimedTotal,
		m.classifyFailuresTotal,
		m.responderLatency,
	)
	return m
}

func (m *EngineMetrics) CountFragment(kind string) {
	if m == nil {
		return
	}
	m.fragmentsTotal.WithLabelValues(kind).Inc()
}

func (m *EngineMetrics) ObserveSettled(fragmentCount int) {
	if m == nil {
		return
	}
	m.windowsSettledTotal.Inc()
	m.windowFragments.Observe(float64(fragmentCount))
}

func (m *EngineMetrics) CountDispatch(action string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.dispatchesTotal.WithLabelValues(action, status).Inc()
}

func (m *EngineMetrics) CountJanitorReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.janitorReclaimedTotal.Add(float64(n))
}

func (m *EngineMetrics) CountClassificationFailure() {
	if m == nil {
		return
	}
	m.classifyFailuresTotal.Inc()
}

func (m *EngineMetrics) ObserveResponderLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.responderLatency.Observe(d.Seconds())
}
