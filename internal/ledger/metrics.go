package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the public event ledger.
type Metrics struct {
	Appended       prometheus.Counter
	AppendFailures prometheus.Counter
	Relayed        prometheus.Counter
	RelayFailures  prometheus.Counter
	RelayBacklog   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with ledger metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Appended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conubium_ledger_events_appended_total",
			Help: "Total number of events appended to the public ledger",
		}),
		AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conubium_ledger_append_failures_total",
			Help: "Total number of ledger append failures",
		}),
		Relayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conubium_ledger_events_relayed_total",
			Help: "Total number of ledger events relayed to the broker",
		}),
		RelayFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conubium_ledger_relay_failures_total",
			Help: "Total number of relay batch failures",
		}),
		RelayBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "conubium_ledger_relay_backlog",
			Help: "Number of unpublished events seen by the last relay pass",
		}),
	}
}

// IncAppended increments the appended counter.
func (m *Metrics) IncAppended() {
	m.Appended.Inc()
}

// IncAppendFailures increments the append failures counter.
func (m *Metrics) IncAppendFailures() {
	m.AppendFailures.Inc()
}

// AddRelayed adds n to the relayed counter.
func (m *Metrics) AddRelayed(n int) {
	m.Relayed.Add(float64(n))
}

// IncRelayFailures increments the relay failures counter.
func (m *Metrics) IncRelayFailures() {
	m.RelayFailures.Inc()
}

// SetRelayBacklog sets the backlog gauge.
func (m *Metrics) SetRelayBacklog(n int) {
	m.RelayBacklog.Set(float64(n))
}
