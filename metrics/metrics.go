package metrics

import (
	"github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/Layr-Labs/eigensdk-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsGenerator is what the user operation lifecycle reports to.
type MetricsGenerator interface {
	metrics.Metrics

	// mode is sponsored or self_funded, status ok or an error code
	IncEstimation(mode, status string)
	IncSubmission(status string)
	AddPollAttempts(n int)
	IncOutcome(state string)
	ObserveInclusion(seconds float64)
}

// UserOpMetrics contains instrumented metrics that should be incremented by the lifecycle using the methods below
type UserOpMetrics struct {
	metrics.Metrics

	numEstimations  *prometheus.CounterVec
	numSubmissions  *prometheus.CounterVec
	numPollAttempts prometheus.Counter
	numOutcomes     *prometheus.CounterVec
	// from submission to receipt, only for included operations
	inclusionSeconds prometheus.Histogram
}

const (
	apNamespace = "ap_userop"
	AppName     = "ap-userop"
)

// New builds the eigensdk metrics server for ipPortAddress plus the lifecycle metrics,
// all registered on reg. The server only listens once Start is called.
func New(ipPortAddress string, reg *prometheus.Registry, logger logging.Logger) *UserOpMetrics {
	eigenMetrics := metrics.NewEigenMetrics(AppName, ipPortAddress, reg, logger)
	return NewUserOpMetrics(eigenMetrics, reg)
}

func NewUserOpMetrics(eigenMetrics metrics.Metrics, reg prometheus.Registerer) *UserOpMetrics {
	return &UserOpMetrics{
		Metrics: eigenMetrics,

		numEstimations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Name:      "num_estimations_total",
				Help:      "The number of user operations priced, by funding mode and status",
			}, []string{"mode", "status"}),

		numSubmissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Name:      "num_submissions_total",
				Help:      "The number of eth_sendUserOperation calls, by status",
			}, []string{"status"}),

		numPollAttempts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Name:      "num_receipt_polls_total",
				Help:      "The number of receipt lookups sent to the bundler",
			}),

		numOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Name:      "num_lifecycle_outcomes_total",
				Help:      "The number of lifecycles by final state",
			}, []string{"state"}),

		inclusionSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: apNamespace,
				Name:      "inclusion_seconds",
				Help:      "Time between submission and the receipt showing up",
				Buckets:   []float64{1, 2, 4, 8, 15, 30, 60, 120},
			}),
	}
}

func (m *UserOpMetrics) IncEstimation(mode, status string) {
	m.numEstimations.WithLabelValues(mode, status).Inc()
}

func (m *UserOpMetrics) IncSubmission(status string) {
	m.numSubmissions.WithLabelValues(status).Inc()
}

func (m *UserOpMetrics) AddPollAttempts(n int) {
	m.numPollAttempts.Add(float64(n))
}

func (m *UserOpMetrics) IncOutcome(state string) {
	m.numOutcomes.WithLabelValues(state).Inc()
}

func (m *UserOpMetrics) ObserveInclusion(seconds float64) {
	m.inclusionSeconds.Observe(seconds)
}
