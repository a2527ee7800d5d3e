// Package producer publishes simulated telemetry onto the ingestion queue:
// a fixed sample batch and randomly generated batches.
package producer

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/drblury/xrayflow/internal/runtime"
	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/logging"
	"github.com/drblury/xrayflow/internal/runtime/metadata"
	"github.com/drblury/xrayflow/internal/xray"
)

// DefaultSampleFile is read at startup when present.
const DefaultSampleFile = "data/sample-xray-data.json"

// SampleDeviceID is the device of the built-in sample batch.
const SampleDeviceID = "66bb584d4ae73e488c30a072"

const defaultSample = `{"` + SampleDeviceID + `":{"data":[[762,[51.339764,12.339223833333334,1.2038000000000002]],[1766,[51.33977733333333,12.339211833333334,1.531604]],[2763,[51.339782,12.339196166666667,2.13906]]],"time":1735683480000}}`

// Response is returned by every producer operation.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Options configures a Producer.
type Options struct {
	Producer runtime.Producer
	Logger   logging.ServiceLogger
	// SampleFile overrides the built-in sample when it exists.
	SampleFile string
	Rand       *rand.Rand
	Now        func() time.Time
}

// Producer sends simulated batches.
type Producer struct {
	pub    runtime.Producer
	log    logging.ServiceLogger
	sample []byte
	now    func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand
}

// New loads the sample batch and builds a Producer.
func New(opts Options) (*Producer, error) {
	if opts.Producer == nil {
		return nil, errors.ErrPublisherRequired
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sample, err := LoadSample(opts.SampleFile)
	if err != nil {
		return nil, err
	}
	if opts.SampleFile != "" && string(sample) != defaultSample {
		opts.Logger.Info("Sample data loaded", logging.LogFields{"file": opts.SampleFile})
	} else {
		opts.Logger.Debug("Using default sample data", nil)
	}

	return &Producer{
		pub:    opts.Producer,
		log:    opts.Logger,
		sample: sample,
		now:    opts.Now,
		rand:   opts.Rand,
	}, nil
}

// LoadSample reads a sample batch from path, falling back to the built-in
// batch when path is empty or does not exist.
func LoadSample(path string) ([]byte, error) {
	if path == "" {
		return []byte(defaultSample), nil
	}
	raw, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return []byte(defaultSample), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sample %s: %w", path, err)
	}
	if _, err := xray.Decode(raw); err != nil {
		return nil, fmt.Errorf("sample %s: %w", path, err)
	}
	return raw, nil
}

// SendSample publishes the sample batch.
func (p *Producer) SendSample(ctx context.Context) Response {
	deviceID, _ := xray.PeekDeviceID(p.sample)
	if err := p.publish(ctx, deviceID, p.sample); err != nil {
		p.log.Error("Error sending sample data", err, nil)
		return Response{Message: "Failed to send sample data"}
	}
	p.log.Info("Sample data sent to queue", logging.LogFields{"device_id": deviceID})
	return Response{Success: true, Message: "Sample data sent to queue"}
}

// SendRandom generates and publishes a random batch for deviceID, or for a
// random device_<n> when deviceID is empty.
func (p *Producer) SendRandom(ctx context.Context, deviceID string) Response {
	p.randMu.Lock()
	if deviceID == "" {
		deviceID = "device_" + strconv.Itoa(p.rand.IntN(1000))
	}
	samples := Generate(p.rand)
	p.randMu.Unlock()

	payload, err := xray.Encode(deviceID, p.now().UnixMilli(), samples)
	if err == nil {
		err = p.publish(ctx, deviceID, payload)
	}
	if err != nil {
		p.log.Error("Error sending random data", err, logging.LogFields{"device_id": deviceID})
		return Response{Message: "Failed to send random data"}
	}
	p.log.Info("Random data sent to queue", logging.LogFields{
		"device_id":    deviceID,
		"sample_count": len(samples),
	})
	return Response{Success: true, Message: "Random data sent to queue", Data: payload}
}

func (p *Producer) publish(ctx context.Context, deviceID string, payload []byte) error {
	md := metadata.New(metadata.KeyDeviceID, deviceID, metadata.KeySource, "producer")
	_, err := p.pub.Publish(ctx, payload, md)
	return err
}

// Generate returns 5 to 14 samples near the sample device position. Offsets
// grow by 500 to 1499 ms, speed lies in [0.5, 3.5).
func Generate(r *rand.Rand) []xray.Sample {
	n := r.IntN(10) + 5
	samples := make([]xray.Sample, n)
	var offset int64
	for i := range samples {
		offset += int64(r.IntN(1000) + 500)
		samples[i] = xray.Sample{
			Time: offset,
			Coordinates: xray.Coordinates{
				X:     51.33 + r.Float64()*0.01,
				Y:     12.33 + r.Float64()*0.01,
				Speed: r.Float64()*3 + 0.5,
			},
		}
	}
	return samples
}
