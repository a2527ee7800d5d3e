package broadcast

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons.
const (
	DropQueueFull      = "queue_full"
	DropClosed         = "closed"
	DropSlowSubscriber = "slow_subscriber"
	DropSinkFailed     = "sink_failed"
)

// Metrics counts what the broadcaster could not deliver.
type Metrics struct {
	mu         sync.Mutex
	registered bool
	registerer prometheus.Registerer

	dropped     *prometheus.CounterVec
	delivered   prometheus.Counter
	subscribers prometheus.Gauge
}

// NewMetrics builds the broadcaster collectors. A nil registerer keeps them
// unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		registerer: registerer,
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xrayflow",
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Events that were not delivered, by reason",
		}, []string{"reason"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xrayflow",
			Subsystem: "broadcast",
			Name:      "delivered_total",
			Help:      "Events handed to a subscriber",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xrayflow",
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Currently connected subscribers",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered || m.registerer == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.dropped, m.delivered, m.subscribers} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) deliver() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) setSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
