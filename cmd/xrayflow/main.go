// Command xrayflow consumes x-ray telemetry from the broker, persists it and
// streams processing events, next to the query and producer HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/xrayflow/internal/broadcast"
	"github.com/drblury/xrayflow/internal/pipeline"
	"github.com/drblury/xrayflow/internal/producer"
	"github.com/drblury/xrayflow/internal/query"
	"github.com/drblury/xrayflow/internal/runtime"
	"github.com/drblury/xrayflow/internal/runtime/config"
	"github.com/drblury/xrayflow/internal/runtime/logging"
	"github.com/drblury/xrayflow/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "xrayflow:", err)
		os.Exit(1)
	}
}

func run() error {
	conf, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.NewJSONLogger(os.Stdout, conf.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, conf, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	svc, err := runtime.NewService(conf, log, ctx, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	b, err := newBroadcaster(conf, svc, log)
	if err != nil {
		return err
	}
	defer b.Close()

	pm := pipeline.NewMetrics(svc.Registerer())
	if err := pm.Register(); err != nil {
		return fmt.Errorf("register pipeline metrics: %w", err)
	}
	consumer, err := pipeline.NewConsumer(pipeline.Options{
		Store:          st,
		Emitter:        b,
		Logger:         log,
		Metrics:        pm,
		ValidateRanges: conf.ValidateRanges,
	})
	if err != nil {
		return err
	}
	if err := pipeline.Register(svc, consumer); err != nil {
		return err
	}

	if conf.Port > 0 {
		if err := registerAPI(conf, svc, st, b, log); err != nil {
			return err
		}
	}

	log.Info("Starting xrayflow", logging.LogFields{
		"queue":        conf.Queue,
		"store_driver": conf.StoreDriver,
		"port":         conf.Port,
	})
	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Stopped xrayflow", nil)
	return nil
}

func newBroadcaster(conf *config.Config, svc *runtime.Service, log logging.ServiceLogger) (*broadcast.Broadcaster, error) {
	metrics := broadcast.NewMetrics(svc.Registerer())
	if err := metrics.Register(); err != nil {
		return nil, fmt.Errorf("register broadcast metrics: %w", err)
	}

	opts := broadcast.Options{
		QueueSize:        conf.BroadcastQueueSize,
		SubscriberBuffer: conf.SubscriberBuffer,
		Metrics:          metrics,
		Logger:           log,
	}
	if conf.StepEventsTopic != "" {
		sink, err := broadcast.NewPublisherSink(svc.Publisher(), conf.StepEventsTopic)
		if err != nil {
			return nil, err
		}
		opts.Sink = sink
		log.Info("Mirroring step events to broker", logging.LogFields{"topic": conf.StepEventsTopic})
	}
	return broadcast.New(opts), nil
}

func registerAPI(conf *config.Config, svc *runtime.Service, st store.Store, b *broadcast.Broadcaster, log logging.ServiceLogger) error {
	route := func(pattern string, h http.Handler) {
		svc.RegisterHTTPHandler(conf.Port, pattern, h)
	}

	route("GET /events", broadcast.Handler(b, log))
	route("GET /healthz", runtime.HealthHandler(b.Subscribers))

	qs, err := query.NewService(query.Options{Store: st, Emitter: b, Logger: log})
	if err != nil {
		return err
	}
	query.NewHandler(qs, log).Register(route)

	prod, err := producer.New(producer.Options{
		Producer:   svc,
		Logger:     log,
		SampleFile: producer.DefaultSampleFile,
	})
	if err != nil {
		return err
	}
	prod.Register(route)
	return nil
}
