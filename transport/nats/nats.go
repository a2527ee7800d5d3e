// Package nats provides a NATS transport. Subscribers join a queue group so
// several ingestion instances share one subject.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/xrayflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// QueueGroupPrefix names the queue group shared by ingestion instances.
const QueueGroupPrefix = "xrayflow"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	options := connectionOptions(cfg, logger)

	publisher, err := transport.Connect(ctx, TransportName, cfg, logger, func() (message.Publisher, error) {
		return PublisherFactory(
			nats.PublisherConfig{
				URL:         url,
				NatsOptions: options,
				Marshaler:   marshaler,
			},
			logger,
		)
	})
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: QueueGroupPrefix,
			NatsOptions:      options,
			Unmarshaler:      marshaler,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// connectionOptions keeps an established connection alive indefinitely and
// logs disconnects and reconnects.
func connectionOptions(cfg transport.Config, logger watermill.LoggerAdapter) []nc.Option {
	wait := cfg.GetConnectMaxInterval()
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return []nc.Option{
		nc.Name("xrayflow"),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(wait),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				logger.Error("NATS connection lost", err, watermill.LogFields{"transport": TransportName})
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Info("NATS connection restored", watermill.LogFields{"url": conn.ConnectedUrlRedacted()})
		}),
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
