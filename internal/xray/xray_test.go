package xray

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
)

const sampleData = `[[762,[51.339764,12.339223833333334,1.2038000000000002]],[1766,[51.33977733333333,12.339211833333334,1.531604]],[2763,[51.339782,12.339196166666667,2.13906]]]`

func samplePayload() []byte {
	return []byte(`{"66bb584d4ae73e488c30a072":{"data":` + sampleData + `,"time":1735683480000}}`)
}

func TestDecodeSample(t *testing.T) {
	msg, err := Decode(samplePayload())
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if msg.DeviceID != "66bb584d4ae73e488c30a072" {
		t.Fatalf("unexpected device id %q", msg.DeviceID)
	}
	if msg.Time != 1735683480000 {
		t.Fatalf("unexpected time %d", msg.Time)
	}
	if len(msg.Data) != 3 {
		t.Fatalf("expected 3 tuples, got %d", len(msg.Data))
	}
}

func TestSplitEnvelopeRejectsBadKeys(t *testing.T) {
	tests := map[string]string{
		"not json":   `{"dev1":`,
		"array":      `[1,2,3]`,
		"null":       `null`,
		"zero keys":  `{}`,
		"two keys":   `{"dev1":{"time":1,"data":[]},"dev2":{"time":1,"data":[]}}`,
		"empty key":  `{"":{"time":1,"data":[]}}`,
		"blank key":  `{"  ":{"time":1,"data":[]}}`,
		"plain text": `hello`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := SplitEnvelope([]byte(payload))
			var malformedErr *errors.MalformedMessageError
			if !stderrors.As(err, &malformedErr) {
				t.Fatalf("expected MalformedMessageError, got %v", err)
			}
			if malformedErr.DeviceID != "" {
				t.Fatalf("expected no device id, got %q", malformedErr.DeviceID)
			}
			if _, ok := PeekDeviceID([]byte(payload)); ok {
				t.Fatal("PeekDeviceID should fail")
			}
		})
	}
}

func TestDecodeBodyFailuresKeepDeviceID(t *testing.T) {
	tests := map[string]string{
		"missing time":      `{"dev1":{"data":[]}}`,
		"missing data":      `{"dev1":{"time":1735683480000}}`,
		"null data":         `{"dev1":{"time":1735683480000,"data":null}}`,
		"data not array":    `{"dev1":{"time":1735683480000,"data":{"a":1}}}`,
		"time not number":   `{"dev1":{"time":"yesterday","data":[]}}`,
		"fractional time":   `{"dev1":{"time":1.5,"data":[]}}`,
		"body not object":   `{"dev1":42}`,
		"body is an array":  `{"dev1":[1,2]}`,
		"time out of range": `{"dev1":{"time":1e300,"data":[]}}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			if !stderrors.Is(err, errors.ErrMalformedMessage) {
				t.Fatalf("expected ErrMalformedMessage, got %v", err)
			}
			deviceID, ok := errors.DeviceIDOf(err)
			if !ok || deviceID != "dev1" {
				t.Fatalf("expected device dev1, got %q (%v)", deviceID, ok)
			}
		})
	}
}

func TestDecodeEmptyData(t *testing.T) {
	msg, err := Decode([]byte(`{"dev1":{"time":1,"data":[]}}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if msg.Data == nil || len(msg.Data) != 0 {
		t.Fatalf("expected empty non-nil data, got %#v", msg.Data)
	}
}

func TestTransformSample(t *testing.T) {
	msg, err := Decode(samplePayload())
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	draft, err := Transformer{}.Transform(msg)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if draft.SampleCount != 3 || len(draft.Samples) != 3 {
		t.Fatalf("expected 3 samples, got count=%d len=%d", draft.SampleCount, len(draft.Samples))
	}
	if draft.PayloadSize != len(sampleData) {
		t.Fatalf("expected payload size %d, got %d", len(sampleData), draft.PayloadSize)
	}
	first := draft.Samples[0]
	if first.Time != 762 || first.Coordinates.X != 51.339764 || first.Coordinates.Speed != 1.2038000000000002 {
		t.Fatalf("unexpected first sample %+v", first)
	}
	if draft.Samples[2].Time != 2763 {
		t.Fatalf("order not preserved: %+v", draft.Samples)
	}
	if draft.DeviceID != "66bb584d4ae73e488c30a072" || draft.Time != 1735683480000 {
		t.Fatalf("unexpected draft header %+v", draft)
	}
}

func TestTransformKeepsOrderAndDuplicates(t *testing.T) {
	payload := `{"dev1":{"time":1735683480000,"data":[[2000,[1.5,2.5,3]],[1000,[1.25,2.75,4.5]],[1000,[1.25,2.75,4.5]]]}}`
	msg, err := Decode([]byte(payload))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	draft, err := Transformer{}.Transform(msg)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if draft.SampleCount != 3 {
		t.Fatalf("expected 3 samples, got %d", draft.SampleCount)
	}
	if draft.Samples[0].Time != 2000 || draft.Samples[1].Time != 1000 {
		t.Fatalf("samples were reordered: %+v", draft.Samples)
	}
	want := len(`[[2000,[1.5,2.5,3]],[1000,[1.25,2.75,4.5]],[1000,[1.25,2.75,4.5]]]`)
	if draft.PayloadSize != want {
		t.Fatalf("expected payload size %d, got %d", want, draft.PayloadSize)
	}
}

func TestTransformRejectsBadTuples(t *testing.T) {
	tests := map[string]struct {
		data  string
		index int
	}{
		"short tuple":       {data: `[[1000,[1,2,3]],[2000]]`, index: 1},
		"two coordinates":   {data: `[[1000,[1,2]]]`, index: 0},
		"four coordinates":  {data: `[[1000,[1,2,3,4]]]`, index: 0},
		"string offset":     {data: `[["a",[1,2,3]]]`, index: 0},
		"string coordinate": {data: `[[1000,[1,"2",3]]]`, index: 0},
		"not array":         {data: `[[1000,[1,2,3]],{"time":1}]`, index: 1},
		"extra element":     {data: `[[1000,[1,2,3],5]]`, index: 0},
		"null offset":       {data: `[[null,[1,2,3]]]`, index: 0},
		"null coordinate":   {data: `[[1000,[1,2,3]],[2000,[1,null,3]]]`, index: 1},
		"null coordinates":  {data: `[[1000,null]]`, index: 0},
		"all null":          {data: `[[null,[null,null,null]]]`, index: 0},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			msg, err := Decode([]byte(`{"dev1":{"time":1,"data":` + tt.data + `}}`))
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			_, err = Transformer{}.Transform(msg)
			var transformErr *errors.TransformationError
			if !stderrors.As(err, &transformErr) {
				t.Fatalf("expected TransformationError, got %v", err)
			}
			if transformErr.Index != tt.index || transformErr.DeviceID != "dev1" {
				t.Fatalf("unexpected error details %+v", transformErr)
			}
		})
	}
}

func TestTransformRangeValidation(t *testing.T) {
	msg, err := Decode([]byte(`{"dev1":{"time":1,"data":[[1000,[51.3,12.3,1]],[2000,[95,12.3,1]]]}}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if _, err := (Transformer{}).Transform(msg); err != nil {
		t.Fatalf("range validation should be off by default: %v", err)
	}

	_, err = Transformer{ValidateRanges: true}.Transform(msg)
	if !stderrors.Is(err, errors.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
	if id, _ := errors.DeviceIDOf(err); id != "dev1" {
		t.Fatalf("expected device id dev1, got %q", id)
	}
}

func TestCheckRanges(t *testing.T) {
	tests := []struct {
		name string
		c    Coordinates
		ok   bool
	}{
		{name: "valid", c: Coordinates{X: 51.33, Y: 12.33, Speed: 2}, ok: true},
		{name: "bounds", c: Coordinates{X: -90, Y: 180, Speed: 0}, ok: true},
		{name: "latitude", c: Coordinates{X: 90.1, Y: 0, Speed: 0}},
		{name: "longitude", c: Coordinates{X: 0, Y: -180.5, Speed: 0}},
		{name: "negative speed", c: Coordinates{X: 0, Y: 0, Speed: -1}},
		{name: "nan", c: Coordinates{X: math.NaN(), Y: 0, Speed: 0}},
		{name: "inf speed", c: Coordinates{X: 0, Y: 0, Speed: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRanges(tt.c)
			if (err == nil) != tt.ok {
				t.Fatalf("CheckRanges(%+v) = %v, want ok=%v", tt.c, err, tt.ok)
			}
		})
	}
}

func TestCoordinatesJSON(t *testing.T) {
	data, err := jsoncodec.Marshal(Coordinates{X: 1.5, Y: 2.5, Speed: 3})
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(data) != `[1.5,2.5,3]` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var fromArray, fromObject Coordinates
	if err := jsoncodec.Unmarshal([]byte(`[1.5,2.5,3]`), &fromArray); err != nil {
		t.Fatalf("array form: %v", err)
	}
	if err := jsoncodec.Unmarshal([]byte(`{"x":1.5,"y":2.5,"speed":3}`), &fromObject); err != nil {
		t.Fatalf("object form: %v", err)
	}
	if fromArray != fromObject {
		t.Fatalf("forms disagree: %+v vs %+v", fromArray, fromObject)
	}

	var bad Coordinates
	if err := jsoncodec.Unmarshal([]byte(`[1,2]`), &bad); err == nil {
		t.Fatal("expected error for two element array")
	}
	if err := jsoncodec.Unmarshal([]byte(`{"x":1}`), &bad); err == nil {
		t.Fatal("expected error for incomplete object")
	}
	if err := jsoncodec.Unmarshal([]byte(`[1,null,3]`), &bad); err == nil {
		t.Fatal("expected error for null coordinate")
	}
}

func TestEncodeRoundTripAndPayloadSize(t *testing.T) {
	samples := []Sample{
		{Time: 762, Coordinates: Coordinates{X: 51.339764, Y: 12.339223833333334, Speed: 1.2038000000000002}},
		{Time: 1766, Coordinates: Coordinates{X: 51.33977733333333, Y: 12.339211833333334, Speed: 1.531604}},
		{Time: 2763, Coordinates: Coordinates{X: 51.339782, Y: 12.339196166666667, Speed: 2.13906}},
	}
	payload, err := Encode("66bb584d4ae73e488c30a072", 1735683480000, samples)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	draft, err := Transformer{}.Transform(msg)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	for i := range samples {
		if draft.Samples[i] != samples[i] {
			t.Fatalf("sample %d differs: %+v vs %+v", i, draft.Samples[i], samples[i])
		}
	}

	size, err := PayloadSize(samples)
	if err != nil {
		t.Fatalf("PayloadSize returned error: %v", err)
	}
	if size != draft.PayloadSize || size != len(sampleData) {
		t.Fatalf("payload size mismatch: helper=%d transform=%d want=%d", size, draft.PayloadSize, len(sampleData))
	}
}
