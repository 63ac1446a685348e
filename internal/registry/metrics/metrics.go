package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registry module.
// Tracks lifecycle counts and mutating path durations.
type Metrics struct {
	ProposalsCreated       prometheus.Counter
	MarriagesCreated       prometheus.Counter
	MarriagesDissolved     prometheus.Counter
	ProofRejections        prometheus.Counter
	CreateProposalDuration prometheus.Histogram
	AcceptProposalDuration prometheus.Histogram
	RequestDivorceDuration prometheus.Histogram
}

// New creates a new Metrics instance with all registry module metrics registered.
func New() *Metrics {
	return &Metrics{
		ProposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conubium_proposals_created_total",
			Help: "Total number of marriage proposals created",
		}),
		MarriagesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conubium_marriages_created_total",
			Help: "Total number of marriages created",
		}),
		MarriagesDissolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conubium_marriages_dissolved_total",
			Help: "Total number of marriages dissolved",
		}),
		ProofRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conubium_proof_rejections_total",
			Help: "Total number of identity proofs rejected across all operations",
		}),
		CreateProposalDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "conubium_create_proposal_duration_seconds",
			Help:    "Duration of createProposal operations (eligibility check path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		AcceptProposalDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "conubium_accept_proposal_duration_seconds",
			Help:    "Duration of acceptProposal operations (marriage creation path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		RequestDivorceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "conubium_request_divorce_duration_seconds",
			Help:    "Duration of requestDivorce operations (dissolution path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementProposalsCreated records a successful proposal creation.
func (m *Metrics) IncrementProposalsCreated() {
	m.ProposalsCreated.Inc()
}

// IncrementMarriagesCreated records a successful marriage creation.
func (m *Metrics) IncrementMarriagesCreated() {
	m.MarriagesCreated.Inc()
}

// IncrementMarriagesDissolved records a successful dissolution.
func (m *Metrics) IncrementMarriagesDissolved() {
	m.MarriagesDissolved.Inc()
}

// IncrementProofRejections records a rejected identity proof.
func (m *Metrics) IncrementProofRejections() {
	m.ProofRejections.Inc()
}

// ObserveCreateProposal records the duration of a createProposal operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCreateProposal(start time.Time) {
	m.CreateProposalDuration.Observe(time.Since(start).Seconds())
}

// ObserveAcceptProposal records the duration of an acceptProposal operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAcceptProposal(start time.Time) {
	m.AcceptProposalDuration.Observe(time.Since(start).Seconds())
}

// ObserveRequestDivorce records the duration of a requestDivorce operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRequestDivorce(start time.Time) {
	m.RequestDivorceDuration.Observe(time.Since(start).Seconds())
}
