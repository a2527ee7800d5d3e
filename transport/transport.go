// Package transport defines the broker abstraction xrayflow consumes
// telemetry from. Each broker implementation (rabbitmq, kafka, aws, ...)
// lives in its own sub-package and registers itself with the registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close releases the subscriber first so no new deliveries arrive while the
// publisher is shutting down.
func (t Transport) Close() error {
	var firstErr error
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil {
			firstErr = err
		}
	}
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// Transports read only the keys they need without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Initial connection budget.
	GetConnectInitialInterval() time.Duration
	GetConnectMaxInterval() time.Duration
	GetConnectMaxElapsed() time.Duration

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
