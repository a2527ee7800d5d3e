package xray

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
)

// Envelope is the single device key of a payload split from its body.
type Envelope struct {
	DeviceID string
	Body     json.RawMessage
}

// SplitEnvelope reads the outer object of a payload. It fails unless the
// payload is an object with exactly one non-empty key.
func SplitEnvelope(payload []byte) (Envelope, error) {
	var outer map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(payload, &outer); err != nil {
		return Envelope{}, &errors.MalformedMessageError{Reason: "payload is not a JSON object", Err: err}
	}
	if outer == nil {
		return Envelope{}, &errors.MalformedMessageError{Reason: "payload is not a JSON object"}
	}

	switch len(outer) {
	case 0:
		return Envelope{}, &errors.MalformedMessageError{Reason: "no device key"}
	case 1:
	default:
		keys := make([]string, 0, len(outer))
		for k := range outer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Envelope{}, &errors.MalformedMessageError{
			Reason: fmt.Sprintf("expected exactly one device key, got %d (%s)", len(keys), strings.Join(keys, ", ")),
		}
	}

	for deviceID, body := range outer {
		if strings.TrimSpace(deviceID) == "" {
			return Envelope{}, &errors.MalformedMessageError{Reason: "empty device key"}
		}
		return Envelope{DeviceID: deviceID, Body: body}, nil
	}
	return Envelope{}, nil
}

// PeekDeviceID returns the device key of payload when the envelope is valid.
func PeekDeviceID(payload []byte) (string, bool) {
	env, err := SplitEnvelope(payload)
	if err != nil {
		return "", false
	}
	return env.DeviceID, true
}

// DecodeBody decodes the {"time", "data"} body of env. Both fields are
// required; data must be an array. The tuples themselves are checked by
// the transformer.
func DecodeBody(env Envelope) (Message, error) {
	var body struct {
		Time *float64         `json:"time"`
		Data *json.RawMessage `json:"data"`
	}
	if err := jsoncodec.Unmarshal(env.Body, &body); err != nil {
		return Message{}, malformed(env.DeviceID, "body is not an object with numeric time", err)
	}
	if body.Time == nil {
		return Message{}, malformed(env.DeviceID, "missing time", nil)
	}
	t, ok := toInt64(*body.Time)
	if !ok {
		return Message{}, malformed(env.DeviceID, fmt.Sprintf("time %v is not an integer", *body.Time), nil)
	}
	if body.Data == nil || string(*body.Data) == "null" {
		return Message{}, malformed(env.DeviceID, "missing data", nil)
	}

	var data []json.RawMessage
	if err := jsoncodec.Unmarshal(*body.Data, &data); err != nil {
		return Message{}, malformed(env.DeviceID, "data is not an array", err)
	}
	if data == nil {
		data = []json.RawMessage{}
	}

	return Message{DeviceID: env.DeviceID, Time: t, Data: data}, nil
}

// Decode runs SplitEnvelope and DecodeBody.
func Decode(payload []byte) (Message, error) {
	env, err := SplitEnvelope(payload)
	if err != nil {
		return Message{}, err
	}
	return DecodeBody(env)
}

func malformed(deviceID, reason string, err error) error {
	return &errors.MalformedMessageError{DeviceID: deviceID, Reason: reason, Err: err}
}

// toInt64 accepts integral, finite values inside the exactly representable range.
func toInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}
