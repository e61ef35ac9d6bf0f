package session

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	refreshes   *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics registers the session counters with reg. A nil reg leaves them
// unregistered, which tests use to avoid clashing on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prep",
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Refresh outcomes by result. shared counts callers handed the result of a refresh call other callers also waited on.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prep",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions, by target state and reason.",
		}, []string{"state", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.transitions)
	}
	return m
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) transition(state State, reason string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state.String(), reason).Inc()
}
