package runtime

import (
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/xrayflow/internal/runtime/metadata"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ErrorClassifier maps handler errors onto statistic categories.
type ErrorClassifier func(error) errspkg.Category

func defaultErrorClassifier(err error) errspkg.Category {
	return errspkg.Classify(err)
}

// HandlerInfo describes a registered handler for the status endpoint.
type HandlerInfo struct {
	Name         string        `json:"name"`
	ConsumeQueue string        `json:"consume_queue"`
	Stats        *HandlerStats `json:"stats"`
}

// HandlerStats aggregates per-handler processing statistics.
type HandlerStats struct {
	mu sync.Mutex

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
	InFlight            uint64    `json:"in_flight"`
	// QueueLagMillis is the age of the last delivery, taken from the
	// enqueue timestamp set by the producer. -1 when unknown.
	QueueLagMillis int64 `json:"queue_lag_millis"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`

	latency    *latencyWindow
	throughput *throughputWindow
	now        func() time.Time
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

func newHandlerStats() *HandlerStats {
	return &HandlerStats{
		QueueLagMillis: -1,
		latency:        newLatencyWindow(latencySampleSize),
		throughput:     newThroughputWindow(throughputWindowSize),
		now:            time.Now,
	}
}

func (h *HandlerStats) onMessageStart(msg *message.Message) {
	lag := queueLag(msg, h.now())

	h.mu.Lock()
	defer h.mu.Unlock()
	h.InFlight++
	if lag >= 0 {
		h.QueueLagMillis = lag
	}
}

func (h *HandlerStats) onMessageFinish(duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if h.InFlight > 0 {
		h.InFlight--
	}
	h.MessagesProcessed++
	if err != nil {
		h.MessagesFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = now.UTC()

	h.latency.add(duration)
	h.Latency = h.latency.snapshot()
	h.Latency.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)

	count, span := h.throughput.add(now)
	h.Throughput = ThroughputMetrics{
		MessagesInWindow: uint64(count),
		WindowSeconds:    span.Seconds(),
		CurrentRPS:       float64(count) / span.Seconds(),
	}

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.record(classifier(err), err)
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type alias HandlerStats
	return jsoncodec.Marshal((*alias)(h))
}

func (e *ErrorBreakdown) record(category errspkg.Category, err error) {
	if err == nil {
		return
	}
	switch category {
	case errspkg.CategoryValidation:
		e.Validation++
	case errspkg.CategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

func queueLag(msg *message.Message, now time.Time) int64 {
	if msg == nil {
		return -1
	}
	raw := msg.Metadata.Get(metadatapkg.KeyEnqueuedAt)
	if raw == "" {
		return -1
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return max(now.Sub(time.UnixMilli(ms)).Milliseconds(), 0)
}

// latencyWindow is a ring of the most recent handler durations.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	lw.filled = min(lw.filled+1, len(lw.samples))
}

func (lw *latencyWindow) snapshot() LatencyMetrics {
	out := LatencyMetrics{LastNs: lw.last, SampleSize: lw.filled}
	if lw.filled == 0 {
		return out
	}
	sorted := slices.Clone(lw.samples[:lw.filled])
	slices.Sort(sorted)
	out.P50Ns = percentile(sorted, 0.50)
	out.P95Ns = percentile(sorted, 0.95)
	out.P99Ns = percentile(sorted, 0.99)
	return out
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

// throughputWindow keeps completion times within horizon.
type throughputWindow struct {
	horizon time.Duration
	times   []time.Time
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, times: make([]time.Time, 0, 64)}
}

// add records now and returns the count and covered span of the window.
func (tw *throughputWindow) add(now time.Time) (int, time.Duration) {
	tw.times = append(tw.times, now)
	cutoff := now.Add(-tw.horizon)
	drop := 0
	for drop < len(tw.times) && tw.times[drop].Before(cutoff) {
		drop++
	}
	tw.times = slices.Delete(tw.times, 0, drop)

	span := now.Sub(tw.times[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return len(tw.times), span
}
