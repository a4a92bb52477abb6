package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "place"

// Metrics holds the server's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sessionsActive prometheus.Gauge
	logins         *prometheus.CounterVec
	tilesAccepted  prometheus.Counter
	tilesDropped   *prometheus.CounterVec
	evictions      prometheus.Counter
	protocolErrors prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of logged-in sessions",
		}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		tilesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tiles_accepted_total",
			Help:      "Placements applied to the board and broadcast",
		}),
		tilesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tiles_dropped_total",
			Help:      "Placement requests dropped without a broadcast, by reason",
		}, []string{"reason"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_evictions_total",
			Help:      "Sessions removed because their outbound queue overflowed",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or unexpected messages received from clients",
		}),
	}
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) loginAccepted() {
	if m == nil {
		return
	}
	m.logins.WithLabelValues("accepted").Inc()
}

func (m *Metrics) loginRejected(reason string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(reason).Inc()
}

func (m *Metrics) tileAccepted() {
	if m == nil {
		return
	}
	m.tilesAccepted.Inc()
}

func (m *Metrics) tileDropped(reason string) {
	if m == nil {
		return
	}
	m.tilesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) sessionEvicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}
