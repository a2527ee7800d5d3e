// Package pipeline drives one queue delivery through decode, transform and
// persist, announcing each stage on the broadcaster.
package pipeline

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/xrayflow/internal/broadcast"
	"github.com/drblury/xrayflow/internal/runtime"
	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/logging"
	"github.com/drblury/xrayflow/internal/store"
	"github.com/drblury/xrayflow/internal/xray"
)

// HandlerName is the router name of the telemetry consumer.
const HandlerName = "xray-consumer"

// Options configures a Consumer.
type Options struct {
	Store          store.Store
	Emitter        broadcast.Emitter
	Logger         logging.ServiceLogger
	Metrics        *Metrics
	ValidateRanges bool
}

// Consumer processes telemetry deliveries sequentially.
type Consumer struct {
	store       store.Store
	emitter     broadcast.Emitter
	transformer xray.Transformer
	log         logging.ServiceLogger
	metrics     *Metrics
	tracer      trace.Tracer
	now         func() time.Time
}

// NewConsumer validates opts and builds a Consumer.
func NewConsumer(opts Options) (*Consumer, error) {
	if opts.Store == nil {
		return nil, errors.ErrStoreRequired
	}
	if opts.Emitter == nil {
		return nil, errors.ErrEmitterRequired
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	return &Consumer{
		store:       opts.Store,
		emitter:     opts.Emitter,
		transformer: xray.Transformer{ValidateRanges: opts.ValidateRanges},
		log:         opts.Logger,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer("xrayflow/pipeline"),
		now:         time.Now,
	}, nil
}

// Handle is the router handler. Errors are returned for the middleware chain
// to ack, route or nack; the consumer itself never stops on them.
func (c *Consumer) Handle(msg *message.Message) ([]*message.Message, error) {
	_, err := c.Process(msg.Context(), msg.Payload)
	return nil, err
}

// Process runs payload through the pipeline and returns the saved record.
func (c *Consumer) Process(ctx context.Context, payload []byte) (xray.Record, error) {
	start := c.now()
	rec, err := c.process(ctx, payload)
	c.metrics.Observe(outcomeOf(err), c.now().Sub(start))
	return rec, err
}

func (c *Consumer) process(ctx context.Context, payload []byte) (xray.Record, error) {
	env, err := xray.SplitEnvelope(payload)
	if err != nil {
		c.metrics.StageFailed(StageDecode, err)
		logging.WithTraceContext(ctx, c.log).Error("Rejected message without device id", err, logging.LogFields{
			"message_size": len(payload),
		})
		return xray.Record{}, err
	}

	log := logging.WithTraceContext(ctx, c.log).With(logging.LogFields{"device_id": env.DeviceID})
	c.emitter.Emit(env.DeviceID, broadcast.StepMessageReceived, broadcast.MessageReceivedData{MessageSize: len(payload)})

	decoded, err := stage(ctx, c.tracer, StageDecode, func(context.Context) (xray.Message, error) {
		return xray.DecodeBody(env)
	})
	if err != nil {
		return xray.Record{}, c.fail(log, env.DeviceID, StageDecode, err)
	}

	c.emitter.Emit(env.DeviceID, broadcast.StepProcessing, broadcast.ProcessingData{DataPoints: len(decoded.Data)})

	draft, err := stage(ctx, c.tracer, StageTransform, func(context.Context) (xray.Draft, error) {
		return c.transformer.Transform(decoded)
	})
	if err != nil {
		return xray.Record{}, c.fail(log, env.DeviceID, StageTransform, err)
	}

	rec, err := stage(ctx, c.tracer, StagePersist, func(ctx context.Context) (xray.Record, error) {
		rec, err := c.store.Create(ctx, draft)
		return rec, errors.NewPersistenceError("create", draft.DeviceID, err)
	})
	if err != nil {
		return xray.Record{}, c.fail(log, env.DeviceID, StagePersist, err)
	}

	c.emitter.Emit(env.DeviceID, broadcast.StepSaved, broadcast.SavedData{
		DocumentID: rec.ID,
		DataLength: rec.SampleCount,
		DataVolume: rec.PayloadSize,
	})
	log.Info("Processed and saved x-ray data", logging.LogFields{
		"record_id":    rec.ID,
		"sample_count": rec.SampleCount,
		"payload_size": rec.PayloadSize,
	})
	return rec, nil
}

func (c *Consumer) fail(log logging.ServiceLogger, deviceID, stageName string, err error) error {
	c.metrics.StageFailed(stageName, err)
	log.Error("Error processing x-ray data", err, logging.LogFields{"stage": stageName})
	c.emitter.Emit(deviceID, broadcast.StepError, broadcast.ErrorData{Message: err.Error()})
	return err
}

func stage[T any](ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.category", string(errors.Classify(err))))
	}
	return out, err
}

// Register attaches c to the service router, consuming the configured queue.
func Register(svc *runtime.Service, c *Consumer) error {
	if c == nil {
		return errors.ErrHandlerRequired
	}
	queue := ""
	if svc != nil && svc.Conf != nil {
		queue = svc.Conf.Queue
	}
	return runtime.RegisterMessageHandler(svc, runtime.MessageHandlerRegistration{
		Name:         HandlerName,
		ConsumeQueue: queue,
		Handler:      c.Handle,
	})
}
