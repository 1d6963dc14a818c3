package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// schedulerMetrics holds Prometheus metrics for one scheduler instance.
// A nil receiver disables all recording, so the hot path never branches
// on configuration.
type schedulerMetrics struct {
	tagsProcessed     prometheus.Counter
	eventsDelivered   *prometheus.CounterVec // by kind (timer/action/port/watchdog/builtin)
	reactionsExecuted prometheus.Counter
	deadlineMisses    prometheus.Counter
	watchdogFirings   prometheus.Counter
	modeTransitions   *prometheus.CounterVec // by reactor
	queueDepth        prometheus.Gauge
	tagLag            prometheus.Histogram // physical lag behind logical time at execution
}

// newSchedulerMetrics creates and registers scheduler metrics with the
// provided registry. A nil registry disables metrics.
func newSchedulerMetrics(reg prometheus.Registerer, program string) (*schedulerMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"program": program}
	m := &schedulerMetrics{
		tagsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tachyon",
			Subsystem:   "scheduler",
			Name:        "tags_processed_total",
			Help:        "Total number of logical instants executed",
			ConstLabels: labels,
		}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tachyon",
			Subsystem:   "scheduler",
			Name:        "events_delivered_total",
			Help:        "Total number of events delivered, by trigger kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		reactionsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tachyon",
			Subsystem:   "scheduler",
			Name:        "reactions_executed_total",
			Help:        "Total number of reaction bodies executed",
			ConstLabels: labels,
		}),
		deadlineMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tachyon",
			Subsystem:   "scheduler",
			Name:        "deadline_misses_total",
			Help:        "Total number of reactions diverted to their deadline handler",
			ConstLabels: labels,
		}),
		watchdogFirings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tachyon",
			Subsystem:   "scheduler",
			Name:        "watchdog_firings_total",
			Help:        "Total number of watchdog expiration reactions executed",
			ConstLabels: labels,
		}),
		modeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tachyon",
			Subsystem:   "scheduler",
			Name:        "mode_transitions_total",
			Help:        "Total number of mode transitions applied, by reactor",
			ConstLabels: labels,
		}, []string{"reactor"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "tachyon",
			Subsystem:   "scheduler",
			Name:        "queue_depth",
			Help:        "Current number of pending events",
			ConstLabels: labels,
		}),
		tagLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "tachyon",
			Subsystem:   "scheduler",
			Name:        "tag_lag_seconds",
			Help:        "Physical time minus logical time at tag execution",
			ConstLabels: labels,
			Buckets:     []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.tagsProcessed, m.eventsDelivered, m.reactionsExecuted,
		m.deadlineMisses, m.watchdogFirings, m.modeTransitions,
		m.queueDepth, m.tagLag,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *schedulerMetrics) observeTag(lag time.Duration, queueDepth int) {
	if m == nil {
		return
	}
	m.tagsProcessed.Inc()
	m.tagLag.Observe(lag.Seconds())
	m.queueDepth.Set(float64(queueDepth))
}

func (m *schedulerMetrics) observeEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(kind).Inc()
}

func (m *schedulerMetrics) observeReaction() {
	if m == nil {
		return
	}
	m.reactionsExecuted.Inc()
}

func (m *schedulerMetrics) observeDeadlineMiss() {
	if m == nil {
		return
	}
	m.deadlineMisses.Inc()
}

func (m *schedulerMetrics) observeWatchdogFiring() {
	if m == nil {
		return
	}
	m.watchdogFirings.Inc()
}

func (m *schedulerMetrics) observeModeTransition(reactor string) {
	if m == nil {
		return
	}
	m.modeTransitions.WithLabelValues(reactor).Inc()
}
