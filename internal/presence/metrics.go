package presence

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts presence activity. A nil *Metrics records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	forcedLogouts *prometheus.CounterVec
	markers       *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "presence",
				Name:      "transitions_total",
				Help:      "AppSession state transitions.",
			},
			[]string{"app", "op", "from", "to"},
		),
		forcedLogouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "presence",
				Name:      "forced_logouts_total",
				Help:      "Sibling sessions dropped by the multicharing policy.",
			},
			[]string{"app"},
		),
		markers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "presence",
				Name:      "character_markers_total",
				Help:      "Character online/offline marker transitions.",
			},
			[]string{"app", "kind"},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "presence",
				Name:      "sweep_records_total",
				Help:      "AppSessions handled by the idle reaper, by outcome.",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.forcedLogouts, m.markers, m.sweeps)
	}
	return m
}

func (m *Metrics) transition(app, op string, from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(app, op, from.String(), to.String()).Inc()
}

func (m *Metrics) forcedLogout(app string) {
	if m == nil {
		return
	}
	m.forcedLogouts.WithLabelValues(app).Inc()
}

func (m *Metrics) marker(app, kind string) {
	if m == nil {
		return
	}
	m.markers.WithLabelValues(app, kind).Inc()
}

func (m *Metrics) sweep(outcome string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
}
