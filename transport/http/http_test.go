package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/xrayflow/transport"
	"github.com/drblury/xrayflow/transport/transporttest"
)

type recordingSubscriber struct {
	transporttest.Subscriber
	topics []string
}

func (s *recordingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.topics = append(s.topics, topic)
	return s.Subscriber.Subscribe(ctx, topic)
}

func stubFactories(t *testing.T) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
}

func TestBuildMapsQueueToPath(t *testing.T) {
	stubFactories(t)

	var marshal func(topic string, msg *message.Message) (*nethttp.Request, error)
	PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		marshal = config.MarshalMessageFunc
		return &transporttest.Publisher{}, nil
	}
	sub := &recordingSubscriber{}
	SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, ":8090", addr)
		return sub, nil
	}

	cfg := &transporttest.Config{HTTPServerAddress: ":8090", HTTPPublisherURL: "http://ingest:8090/"}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	_, err = tr.Subscriber.Subscribe(context.Background(), "xray_queue")
	require.NoError(t, err)
	assert.Equal(t, []string{"/xray_queue"}, sub.topics)

	require.NotNil(t, marshal)
	req, err := marshal("xray_queue", message.NewMessage("1", []byte(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, "http://ingest:8090/xray_queue", req.URL.String())
	assert.Equal(t, nethttp.MethodPost, req.Method)
}

func TestBuildErrors(t *testing.T) {
	t.Run("publisher", func(t *testing.T) {
		stubFactories(t)
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber closes publisher", func(t *testing.T) {
		stubFactories(t)
		pub := &transporttest.Publisher{}
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}

func TestTopicPath(t *testing.T) {
	assert.Equal(t, "/xray_queue", topicPath("xray_queue"))
	assert.Equal(t, "/already", topicPath("/already"))
}
