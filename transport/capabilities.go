package transport

// Capabilities describes the delivery guarantees of a broker backend.
// The ingestion service uses them to decide how failed deliveries are
// handed back to the broker.
type Capabilities struct {
	// SupportsNativeDLQ indicates the broker can dead-letter rejected
	// deliveries by itself.
	SupportsNativeDLQ bool

	// SupportsOrdering indicates deliveries from one queue arrive in order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates a negative acknowledgment leads to redelivery.
	SupportsNack bool

	// Durable indicates queued messages survive a broker restart.
	Durable bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// RequiresPoisonRouting returns true when rejected deliveries must be
// moved aside by the application because the broker cannot do it.
func (c Capabilities) RequiresPoisonRouting() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes can be carried.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// RabbitMQCapabilities for a durable RabbitMQ queue.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsAck:       true,
		SupportsNack:      true,
		Durable:           true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		Durable:          true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:              "aws",
		SupportsNativeDLQ: true,
		SupportsTracing:   true,
		SupportsAck:       true,
		SupportsNack:      true,
		Durable:           true,
		MaxMessageSize:    262144, // 256KB
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Unknown transports yield a zero Capabilities carrying only the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
