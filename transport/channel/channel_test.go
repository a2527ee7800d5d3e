package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/xrayflow/transport"
	"github.com/drblury/xrayflow/transport/transporttest"
)

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.ChannelCapabilities, caps)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
}

func TestBuildDeliversToSubscriber(t *testing.T) {
	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	messages, err := tr.Subscriber.Subscribe(ctx, "xray_queue")
	require.NoError(t, err)

	payload := []byte(`{"device-1":{"data":[],"time":1}}`)
	require.NoError(t, tr.Publisher.Publish("xray_queue", message.NewMessage(watermill.NewUUID(), payload)))

	select {
	case msg := <-messages:
		assert.Equal(t, payload, []byte(msg.Payload))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
}

func TestBuildUsesFactory(t *testing.T) {
	originalFactory := Factory
	defer func() { Factory = originalFactory }()

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		assert.Equal(t, int64(OutputBuffer), cfg.OutputChannelBuffer)
		return pub, sub
	}

	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})

	require.NoError(t, err)
	assert.Equal(t, pub, tr.Publisher)
	assert.Equal(t, sub, tr.Subscriber)
}
