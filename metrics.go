package avesync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects playback counters. A single instance can be shared by
// all the controllers of a process. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	FramesDelivered prometheus.Counter
	FramesNew       prometheus.Counter
	FramesAbsent    prometheus.Counter
	Transitions     *prometheus.CounterVec
	Violations      *prometheus.CounterVec
	Cancelled       *prometheus.CounterVec
	Restarts        prometheus.Counter
	EndOfStream     prometheus.Counter
}

// NewMetrics creates the playback collectors and registers them with reg,
// unless reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avesync",
			Name:      "frames_delivered_total",
			Help:      "Frame queries that returned a frame.",
		}),
		FramesNew: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avesync",
			Name:      "frames_new_total",
			Help:      "Frame queries that returned a frame different from the previous one.",
		}),
		FramesAbsent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avesync",
			Name:      "frames_absent_total",
			Help:      "Frame queries with no frame available.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avesync",
			Name:      "state_transitions_total",
			Help:      "Controller state transitions.",
		}, []string{"from", "to"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avesync",
			Name:      "precondition_violations_total",
			Help:      "Operations rejected because of the controller state.",
		}, []string{"operation"}),
		Cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avesync",
			Name:      "cancelled_operations_total",
			Help:      "Asynchronous operations cancelled before completion.",
		}, []string{"operation"}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avesync",
			Name:      "restarts_total",
			Help:      "Explicit restarts.",
		}),
		EndOfStream: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avesync",
			Name:      "end_of_stream_total",
			Help:      "Clips played to the end.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FramesDelivered, m.FramesNew, m.FramesAbsent,
			m.Transitions, m.Violations, m.Cancelled, m.Restarts, m.EndOfStream)
	}
	return m
}

func (m *Metrics) delivered(isNew bool) {
	if m == nil {
		return
	}
	m.FramesDelivered.Inc()
	if isNew {
		m.FramesNew.Inc()
	}
}

func (m *Metrics) absent() {
	if m != nil {
		m.FramesAbsent.Inc()
	}
}

func (m *Metrics) transition(from, to State) {
	if m != nil {
		m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	}
}

func (m *Metrics) violation(op string) {
	if m != nil {
		m.Violations.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) cancelled(kind taskKind) {
	if m != nil {
		m.Cancelled.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) restart() {
	if m != nil {
		m.Restarts.Inc()
	}
}

func (m *Metrics) endOfStream() {
	if m != nil {
		m.EndOfStream.Inc()
	}
}
