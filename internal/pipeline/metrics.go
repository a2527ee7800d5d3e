package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/xrayflow/internal/runtime/errors"
)

// Outcomes recorded per delivery.
const (
	OutcomeSaved         = "saved"
	OutcomeUnprocessable = "unprocessable"
	OutcomeFailed        = "failed"
	OutcomeDuplicate     = "duplicate"
)

// Stages of the pipeline.
const (
	StageDecode    = "decode"
	StageTransform = "transform"
	StagePersist   = "persist"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	mu         sync.Mutex
	registered bool
	registerer prometheus.Registerer

	messages      *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics builds the pipeline collectors for registerer. A nil
// registerer keeps them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		registerer: registerer,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xrayflow",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Deliveries handled by the consumer, by outcome",
		}, []string{"outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xrayflow",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures, by stage and error category",
		}, []string{"stage", "category"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xrayflow",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Time from receipt to the terminal pipeline step",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered || m.registerer == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.messages, m.stageFailures, m.duration} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// Observe records the outcome of one delivery.
func (m *Metrics) Observe(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// StageFailed records a failure in stage.
func (m *Metrics) StageFailed(stage string, err error) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, string(errors.Classify(err))).Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSaved
	case errors.IsUnprocessable(err):
		return OutcomeUnprocessable
	default:
		return OutcomeFailed
	}
}
