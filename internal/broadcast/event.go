// Package broadcast fans processing events out to live subscribers. Emission
// never blocks and never fails the caller: events are queued on a bounded
// channel and dispatched by a single goroutine, which keeps the events of one
// message in order on every stream.
package broadcast

import "time"

// Step is a pipeline stage transition.
type Step string

const (
	StepMessageReceived Step = "MessageReceived"
	StepProcessing      Step = "Processing"
	StepSaved           Step = "Saved"
	StepError           Step = "Error"
)

// Kind names the channel an event is published on.
type Kind string

const (
	KindProcessStep   Kind = "processStep"
	KindSignalCreated Kind = "signalCreated"
	KindSignalUpdated Kind = "signalUpdated"
)

// Event is one notification. Timestamp is in unix milliseconds.
type Event struct {
	Kind      Kind   `json:"-"`
	DeviceID  string `json:"deviceId,omitempty"`
	Step      Step   `json:"step,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`

	seq uint64
}

// Emitter is what the pipeline and the query service publish through.
type Emitter interface {
	Emit(deviceID string, step Step, data any)
	EmitEvent(ev Event)
}

// Payloads of the process steps.
type (
	MessageReceivedData struct {
		MessageSize int `json:"messageSize"`
	}
	ProcessingData struct {
		DataPoints int `json:"dataPoints"`
	}
	SavedData struct {
		DocumentID string `json:"documentId"`
		DataLength int    `json:"dataLength"`
		DataVolume int    `json:"dataVolume"`
	}
	ErrorData struct {
		Message string `json:"message"`
	}
)

func nowMillis(now func() time.Time) int64 {
	return now().UnixMilli()
}
