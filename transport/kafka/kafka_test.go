package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/xrayflow/transport"
	"github.com/drblury/xrayflow/transport/transporttest"
)

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.KafkaCapabilities, caps)
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
}

func stubFactories(t *testing.T) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		stubFactories(t)

		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}

		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			return pub, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			assert.Equal(t, "test-group", cfg.ConsumerGroup)
			require.NotNil(t, cfg.OverwriteSaramaConfig)
			assert.Equal(t, sarama.OffsetOldest, cfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
			return sub, nil
		}

		cfg := transporttest.Fast(TransportName)
		cfg.KafkaBrokers = []string{"localhost:9092"}
		cfg.KafkaConsumerGroup = "test-group"
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, pub, tr.Publisher)
		assert.Equal(t, sub, tr.Subscriber)
	})

	t.Run("defaults consumer group", func(t *testing.T) {
		stubFactories(t)

		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return &transporttest.Publisher{}, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, DefaultConsumerGroup, cfg.ConsumerGroup)
			return &transporttest.Subscriber{}, nil
		}

		_, err := Build(context.Background(), transporttest.Fast(TransportName), watermill.NopLogger{})
		require.NoError(t, err)
	})

	t.Run("returns error when publisher never connects", func(t *testing.T) {
		stubFactories(t)

		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("kafka: client has run out of available brokers")
		}

		_, err := Build(context.Background(), transporttest.Fast(TransportName), watermill.NopLogger{})
		assert.ErrorContains(t, err, "out of available brokers")
		assert.ErrorContains(t, err, "kafka: connect failed")
	})

	t.Run("subscriber error closes publisher", func(t *testing.T) {
		stubFactories(t)

		pub := &transporttest.Publisher{}
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), transporttest.Fast(TransportName), watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}
