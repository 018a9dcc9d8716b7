package subscriber

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the listeners receive. A nil *Metrics records nothing.
type Metrics struct {
	Datagrams *prometheus.CounterVec
	Points    *prometheus.CounterVec
	Flushes   *prometheus.CounterVec
}

// Datagram outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeMalformed = "malformed"
	OutcomeUnrouted  = "unrouted"
)

// NewMetrics creates the listener counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Datagrams: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "forcesim",
				Subsystem: "listener",
				Name:      "datagrams_total",
				Help:      "Datagrams received, by subscriber type and outcome",
			},
			[]string{"type", "outcome"},
		),
		Points: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "forcesim",
				Subsystem: "listener",
				Name:      "points_total",
				Help:      "Points appended to subscriber buffers, by subscriber type",
			},
			[]string{"type"},
		),
		Flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "forcesim",
				Subsystem: "listener",
				Name:      "flushes_total",
				Help:      "End-of-batch signals received, by subscriber type",
			},
			[]string{"type"},
		),
	}
	reg.MustRegister(m.Datagrams, m.Points, m.Flushes)
	return m
}

func (m *Metrics) datagram(typ, outcome string) {
	if m == nil {
		return
	}
	m.Datagrams.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) points(typ string, n int) {
	if m == nil {
		return
	}
	m.Points.WithLabelValues(typ).Add(float64(n))
}

func (m *Metrics) flush(typ string) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(typ).Inc()
}
