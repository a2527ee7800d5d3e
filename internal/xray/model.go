// Package xray holds the telemetry domain model together with the decoder
// and transformer that turn queue payloads into persistable records.
package xray

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
)

// Coordinates is one (x, y, speed) reading. It serialises as a three element
// array and also accepts the {"x","y","speed"} object form on input.
type Coordinates struct {
	X     float64
	Y     float64
	Speed float64
}

// MarshalJSON writes c as [x, y, speed].
func (c Coordinates) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal([3]float64{c.X, c.Y, c.Speed})
}

// UnmarshalJSON reads either the array or the object form. Missing or null
// values are rejected.
func (c *Coordinates) UnmarshalJSON(data []byte) error {
	var arr []*float64
	if err := jsoncodec.Unmarshal(data, &arr); err == nil && arr != nil {
		coords, err := decodeCoordinates(data)
		if err != nil {
			return fmt.Errorf("coordinates: %w", err)
		}
		c.X, c.Y, c.Speed = coords[0], coords[1], coords[2]
		return nil
	}

	var obj struct {
		X     *float64 `json:"x"`
		Y     *float64 `json:"y"`
		Speed *float64 `json:"speed"`
	}
	if err := jsoncodec.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("coordinates: %w", err)
	}
	if obj.X == nil || obj.Y == nil || obj.Speed == nil {
		return fmt.Errorf("coordinates: x, y and speed are required")
	}
	c.X, c.Y, c.Speed = *obj.X, *obj.Y, *obj.Speed
	return nil
}

// Sample is a single reading at Time, an offset in milliseconds.
type Sample struct {
	Time        int64       `json:"time"`
	Coordinates Coordinates `json:"coordinates"`
}

// Draft is a record that has not been persisted yet.
type Draft struct {
	DeviceID    string
	Time        int64
	Samples     []Sample
	SampleCount int
	PayloadSize int
}

// Record is a persisted telemetry batch. ID is assigned by the store on
// the successful write and never reused.
type Record struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	Time        int64     `json:"time"`
	Samples     []Sample  `json:"data"`
	SampleCount int       `json:"dataLength"`
	PayloadSize int       `json:"dataVolume"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Message is a decoded queue payload. Data keeps the tuples in their wire
// form so the transformer can measure and validate them.
type Message struct {
	DeviceID string
	Time     int64
	Data     []json.RawMessage
}

// Encode renders the wire form {"<deviceId>": {"time": t, "data": [[offset, [x, y, speed]], ...]}}.
func Encode(deviceID string, t int64, samples []Sample) ([]byte, error) {
	return jsoncodec.Marshal(map[string]any{
		deviceID: map[string]any{
			"time": t,
			"data": Tuples(samples),
		},
	})
}

// Tuples converts samples back into the wire tuple form.
func Tuples(samples []Sample) []any {
	tuples := make([]any, len(samples))
	for i, s := range samples {
		tuples[i] = []any{s.Time, []float64{s.Coordinates.X, s.Coordinates.Y, s.Coordinates.Speed}}
	}
	return tuples
}

// Clone returns a copy of r that shares no sample storage with it.
func (r Record) Clone() Record {
	if r.Samples != nil {
		r.Samples = append([]Sample(nil), r.Samples...)
	}
	return r
}
