package xray

import (
	"encoding/json"
	"fmt"

	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
)

// Transformer turns decoded messages into drafts.
type Transformer struct {
	// ValidateRanges rejects samples outside the coordinate and speed ranges.
	ValidateRanges bool
}

// Transform emits one sample per tuple in wire order. SampleCount is the
// tuple count and PayloadSize the serialised length of the untransformed
// data array.
func (t Transformer) Transform(msg Message) (Draft, error) {
	samples := make([]Sample, len(msg.Data))
	raw := make([]any, len(msg.Data))

	for i, tuple := range msg.Data {
		sample, generic, err := decodeTuple(tuple)
		if err != nil {
			return Draft{}, &errors.TransformationError{DeviceID: msg.DeviceID, Index: i, Reason: err.Error()}
		}
		if t.ValidateRanges {
			if err := CheckRanges(sample.Coordinates); err != nil {
				return Draft{}, &errors.MalformedMessageError{
					DeviceID: msg.DeviceID,
					Reason:   fmt.Sprintf("sample %d out of range", i),
					Err:      err,
				}
			}
		}
		samples[i] = sample
		raw[i] = generic
	}

	size, err := jsoncodec.EncodedSize(raw)
	if err != nil {
		return Draft{}, &errors.TransformationError{DeviceID: msg.DeviceID, Index: -1, Reason: err.Error()}
	}

	return Draft{
		DeviceID:    msg.DeviceID,
		Time:        msg.Time,
		Samples:     samples,
		SampleCount: len(msg.Data),
		PayloadSize: size,
	}, nil
}

// decodeTuple parses [offset, [x, y, speed]] and also returns the generic
// decoded form used for size measurement.
func decodeTuple(tuple json.RawMessage) (Sample, any, error) {
	var parts []json.RawMessage
	if err := jsoncodec.Unmarshal(tuple, &parts); err != nil {
		return Sample{}, nil, fmt.Errorf("tuple is not an array")
	}
	if len(parts) != 2 {
		return Sample{}, nil, fmt.Errorf("expected [offset, [x, y, speed]], got %d elements", len(parts))
	}

	var offsetPtr *float64
	if err := jsoncodec.Unmarshal(parts[0], &offsetPtr); err != nil || offsetPtr == nil {
		return Sample{}, nil, fmt.Errorf("offset is not a number")
	}
	offset := *offsetPtr
	offsetMs, ok := toInt64(offset)
	if !ok {
		return Sample{}, nil, fmt.Errorf("offset %v is not an integer", offset)
	}

	coords, err := decodeCoordinates(parts[1])
	if err != nil {
		return Sample{}, nil, err
	}

	sample := Sample{
		Time:        offsetMs,
		Coordinates: Coordinates{X: coords[0], Y: coords[1], Speed: coords[2]},
	}
	generic := []any{offset, []any{coords[0], coords[1], coords[2]}}
	return sample, generic, nil
}

// decodeCoordinates parses a three element numeric array. Nulls are
// rejected rather than read as zero.
func decodeCoordinates(data []byte) ([3]float64, error) {
	var values []*float64
	if err := jsoncodec.Unmarshal(data, &values); err != nil || values == nil {
		return [3]float64{}, fmt.Errorf("coordinates are not a numeric array")
	}
	if len(values) != 3 {
		return [3]float64{}, fmt.Errorf("expected 3 coordinates, got %d", len(values))
	}
	var coords [3]float64
	for i, v := range values {
		if v == nil {
			return [3]float64{}, fmt.Errorf("coordinate %d is null", i)
		}
		coords[i] = *v
	}
	return coords, nil
}

// PayloadSize measures samples the way ingestion measures the raw data
// array. It backs records created directly through the API.
func PayloadSize(samples []Sample) (int, error) {
	raw := make([]any, len(samples))
	for i, s := range samples {
		raw[i] = []any{float64(s.Time), []any{s.Coordinates.X, s.Coordinates.Y, s.Coordinates.Speed}}
	}
	return jsoncodec.EncodedSize(raw)
}
