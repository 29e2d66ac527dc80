package gating

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the gating subsystem.
type Metrics struct {
	EvaluationsTotal *prometheus.CounterVec
	SkipsTotal       *prometheus.CounterVec
	LevelsTotal      *prometheus.CounterVec
	ScoreTotal       prometheus.Histogram
	EvalDuration     prometheus.Histogram
	MLCallsTotal     *prometheus.CounterVec
	MLDuration       prometheus.Histogram
	DeliveriesTotal  *prometheus.CounterVec
	CyclesTotal      prometheus.Counter
	CycleDuration    prometheus.Histogram
	CycleSignals     prometheus.Histogram
}

// NewMetrics registers and returns gating metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_evaluations_total",
			Help: "Total signal evaluations by outcome.",
		}, []string{"outcome"}),
		SkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_skips_total",
			Help: "Rejected evaluations by skip reason.",
		}, []string{"reason"}),
		LevelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_levels_total",
			Help: "Scored evaluations by priority level.",
		}, []string{"level"}),
		ScoreTotal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalgate_priority_score",
			Help:    "Total priority score per scored evaluation.",
			Buckets: prometheus.LinearBuckets(0, 15, 11), // 0 .. 150
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalgate_evaluation_duration_seconds",
			Help:    "Duration of single-signal evaluations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}),
		MLCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_ml_calls_total",
			Help: "ML advisor calls by outcome (ok, absent, timeout, error).",
		}, []string{"outcome"}),
		MLDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalgate_ml_call_duration_seconds",
			Help:    "Duration of individual ML advisor calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_deliveries_total",
			Help: "Notification deliveries by outcome.",
		}, []string{"outcome"}),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalgate_cycles_total",
			Help: "Total evaluation cycles run.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalgate_cycle_duration_seconds",
			Help:    "Duration of full watchlist cycles.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}),
		CycleSignals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalgate_cycle_signals",
			Help:    "Signals evaluated per cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 .. ~2048
		}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.SkipsTotal,
		m.LevelsTotal,
		m.ScoreTotal,
		m.EvalDuration,
		m.MLCallsTotal,
		m.MLDuration,
		m.DeliveriesTotal,
		m.CyclesTotal,
		m.CycleDuration,
		m.CycleSignals,
	)

	return m
}

// Hooks returns EngineHooks that increment the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnEvaluated: func(e *EvalEvent) {
			outcome := "skipped"
			if e.WillSend {
				outcome = "accepted"
			}
			m.EvaluationsTotal.WithLabelValues(outcome).Inc()
			m.EvalDuration.Observe(e.Duration)
			if e.SkipReason != SkipNone {
				m.SkipsTotal.WithLabelValues(string(e.SkipReason)).Inc()
			}
			if e.Level != 0 {
				m.LevelsTotal.WithLabelValues(e.Level.String()).Inc()
				m.ScoreTotal.Observe(float64(e.TotalScore))
			}
		},
		OnMLCall: func(outcome string, duration float64) {
			m.MLCallsTotal.WithLabelValues(outcome).Inc()
			m.MLDuration.Observe(duration)
		},
	}
}

// ObserveDelivery records one delivery attempt.
func (m *Metrics) ObserveDelivery(outcome string) {
	m.DeliveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(cs *CycleSummary) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(cs.Duration)
	m.CycleSignals.Observe(float64(cs.Signals))
}
