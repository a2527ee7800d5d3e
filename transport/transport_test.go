package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/xrayflow/transport/transporttest"
)

type mockPublisher struct {
	closeErr error
	closed   *[]string
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }

func (m *mockPublisher) Close() error {
	if m.closed != nil {
		*m.closed = append(*m.closed, "publisher")
	}
	return m.closeErr
}

type mockSubscriber struct {
	closeErr error
	closed   *[]string
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	if m.closed != nil {
		*m.closed = append(*m.closed, "subscriber")
	}
	return m.closeErr
}

func TestTransportCloseOrder(t *testing.T) {
	var closed []string
	tr := Transport{
		Publisher:  &mockPublisher{closed: &closed},
		Subscriber: &mockSubscriber{closed: &closed},
	}

	require.NoError(t, tr.Close())
	assert.Equal(t, []string{"subscriber", "publisher"}, closed)
}

func TestTransportCloseReturnsFirstError(t *testing.T) {
	subErr := errors.New("subscriber close")
	tr := Transport{
		Publisher:  &mockPublisher{closeErr: errors.New("publisher close")},
		Subscriber: &mockSubscriber{closeErr: subErr},
	}

	assert.ErrorIs(t, tr.Close(), subErr)
	assert.NoError(t, Transport{}.Close())
}

func TestConnectRetriesUntilSuccess(t *testing.T) {
	cfg := transporttest.Fast("rabbitmq")
	attempts := 0

	got, err := Connect(context.Background(), "rabbitmq", cfg, watermill.NopLogger{}, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("connection refused")
		}
		return "connected", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "connected", got)
	assert.Equal(t, 3, attempts)
}

func TestConnectGivesUpAfterBudget(t *testing.T) {
	cfg := transporttest.Fast("rabbitmq")
	cfg.ConnectMaxElapsed = 20 * time.Millisecond
	dialErr := errors.New("connection refused")

	start := time.Now()
	_, err := Connect(context.Background(), "rabbitmq", cfg, nil, func() (int, error) {
		return 0, dialErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, dialErr)
	assert.Contains(t, err.Error(), "rabbitmq: connect failed")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, "nats", transporttest.Fast("nats"), nil, func() (int, error) {
		return 0, errors.New("unreachable")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectBackOffUsesConfig(t *testing.T) {
	cfg := &transporttest.Config{
		ConnectInitialInterval: 250 * time.Millisecond,
		ConnectMaxInterval:     3 * time.Second,
	}

	b := connectBackOff(cfg)
	assert.Equal(t, 250*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 3*time.Second, b.MaxInterval)
	assert.Equal(t, time.Minute, connectMaxElapsed(cfg))
	assert.Equal(t, time.Minute, connectMaxElapsed(nil))
}
