package runtime

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/xrayflow/internal/runtime/errors"
	idspkg "github.com/drblury/xrayflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/xrayflow/internal/runtime/metadata"
)

// Producer publishes raw payloads onto the telemetry queue.
type Producer interface {
	Publish(ctx context.Context, payload []byte, md metadatapkg.Metadata) (string, error)
}

// NewMessage wraps payload in a watermill message stamped with a ULID, a
// correlation id and the enqueue time.
func NewMessage(payload []byte, md metadatapkg.Metadata) (*message.Message, error) {
	if len(payload) == 0 {
		return nil, errors.New("payload is required")
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, msg.UUID)
	}
	msg.Metadata.Set(metadatapkg.KeyEnqueuedAt, strconv.FormatInt(time.Now().UnixMilli(), 10))
	if msg.Metadata.Get(metadatapkg.KeyContentType) == "" {
		msg.Metadata.Set(metadatapkg.KeyContentType, "application/json")
	}
	return msg, nil
}

// Publish sends payload to topic and returns the message id.
func Publish(ctx context.Context, publisher message.Publisher, topic string, payload []byte, md metadatapkg.Metadata) (string, error) {
	if publisher == nil {
		return "", errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return "", errspkg.ErrTopicRequired
	}

	msg, err := NewMessage(payload, md)
	if err != nil {
		return "", err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := publisher.Publish(topic, msg); err != nil {
		return "", err
	}
	return msg.UUID, nil
}

// Publish sends payload to the configured telemetry queue.
func (s *Service) Publish(ctx context.Context, payload []byte, md metadatapkg.Metadata) (string, error) {
	if s == nil {
		return "", errspkg.ErrServiceRequired
	}
	return Publish(ctx, s.publisher, s.Conf.Queue, payload, md)
}
