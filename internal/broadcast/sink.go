package broadcast

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/ids"
	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
)

// Metadata keys set on mirrored events.
const (
	MetadataKeyKind     = "event_kind"
	MetadataKeyDeviceID = "device_id"
	MetadataKeyStep     = "step"
)

// Sink receives every dispatched event in addition to the subscribers.
type Sink interface {
	Publish(ev Event) error
}

// PublisherSink mirrors events onto a broker topic.
type PublisherSink struct {
	publisher message.Publisher
	topic     string
}

// NewPublisherSink returns a sink publishing to topic.
func NewPublisherSink(publisher message.Publisher, topic string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errors.ErrTopicRequired
	}
	return &PublisherSink{publisher: publisher, topic: topic}, nil
}

// NewEventMessage encodes ev as a watermill message.
func NewEventMessage(ev Event) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set(MetadataKeyKind, string(ev.Kind))
	if ev.DeviceID != "" {
		msg.Metadata.Set(MetadataKeyDeviceID, ev.DeviceID)
	}
	if ev.Step != "" {
		msg.Metadata.Set(MetadataKeyStep, string(ev.Step))
	}
	return msg, nil
}

func (s *PublisherSink) Publish(ev Event) error {
	msg, err := NewEventMessage(ev)
	if err != nil {
		return err
	}
	return s.publisher.Publish(s.topic, msg)
}
