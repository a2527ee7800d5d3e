package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics tracks what happened to deliveries that did not end in a
// plain ack.
type DeliveryMetrics struct {
	mu sync.Mutex

	poisoned    uint64
	discarded   uint64
	redelivered uint64
	duplicates  uint64
	lastAt      time.Time

	poisonedTotal    *prometheus.CounterVec
	discardedTotal   prometheus.Counter
	redeliveredTotal prometheus.Counter
	duplicatesTotal  prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

// DeliverySnapshot is a point-in-time view of DeliveryMetrics.
type DeliverySnapshot struct {
	Poisoned    uint64    `json:"poisoned"`
	Discarded   uint64    `json:"discarded"`
	Redelivered uint64    `json:"redelivered"`
	Duplicates  uint64    `json:"duplicates"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

func newDeliveryCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xrayflow",
		Subsystem: "delivery",
		Name:      name,
		Help:      help,
	})
}

// NewDeliveryMetrics creates the collectors. A nil registerer keeps them
// unregistered.
func NewDeliveryMetrics(registerer prometheus.Registerer) *DeliveryMetrics {
	return &DeliveryMetrics{
		registerer: registerer,
		poisonedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xrayflow",
			Subsystem: "delivery",
			Name:      "poisoned_total",
			Help:      "Unprocessable messages published to the poison queue",
		}, []string{"queue"}),
		discardedTotal:   newDeliveryCounter("discarded_total", "Unprocessable messages acknowledged and dropped"),
		redeliveredTotal: newDeliveryCounter("redelivered_total", "Failed deliveries handed back to the broker"),
		duplicatesTotal:  newDeliveryCounter("duplicates_total", "Deliveries acknowledged as duplicates"),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *DeliveryMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered || m.registerer == nil {
		return nil
	}

	collectors := []prometheus.Collector{
		m.poisonedTotal,
		m.discardedTotal,
		m.redeliveredTotal,
		m.duplicatesTotal,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *DeliveryMetrics) RecordPoisoned(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poisoned++
	m.lastAt = time.Now()
	m.poisonedTotal.WithLabelValues(queue).Inc()
}

func (m *DeliveryMetrics) RecordDiscarded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded++
	m.lastAt = time.Now()
	m.discardedTotal.Inc()
}

func (m *DeliveryMetrics) RecordRedelivery() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redelivered++
	m.lastAt = time.Now()
	m.redeliveredTotal.Inc()
}

func (m *DeliveryMetrics) RecordDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
	m.lastAt = time.Now()
	m.duplicatesTotal.Inc()
}

// Snapshot returns the current counts.
func (m *DeliveryMetrics) Snapshot() DeliverySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return DeliverySnapshot{
		Poisoned:    m.poisoned,
		Discarded:   m.discarded,
		Redelivered: m.redelivered,
		Duplicates:  m.duplicates,
		LastEventAt: m.lastAt,
		CollectedAt: time.Now(),
	}
}
