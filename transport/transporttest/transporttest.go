// Package transporttest provides a field-backed transport.Config and
// recording publisher/subscriber doubles for tests.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config implements transport.Config with plain fields.
type Config struct {
	PubSubSystem           string
	ConnectInitialInterval time.Duration
	ConnectMaxInterval     time.Duration
	ConnectMaxElapsed      time.Duration
	KafkaBrokers           []string
	KafkaConsumerGroup     string
	RabbitMQURL            string
	NATSURL                string
	HTTPServerAddress      string
	HTTPPublisherURL       string
	AWSRegion              string
	AWSAccountID           string
	AWSAccessKeyID         string
	AWSSecretAccessKey     string
	AWSEndpoint            string
}

func (c *Config) GetPubSubSystem() string                  { return c.PubSubSystem }
func (c *Config) GetConnectInitialInterval() time.Duration { return c.ConnectInitialInterval }
func (c *Config) GetConnectMaxInterval() time.Duration     { return c.ConnectMaxInterval }
func (c *Config) GetConnectMaxElapsed() time.Duration      { return c.ConnectMaxElapsed }
func (c *Config) GetKafkaBrokers() []string                { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string            { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string                   { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string                       { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string             { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string              { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string                     { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string                  { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string                { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string            { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string                   { return c.AWSEndpoint }

// Fast returns a Config with a tight connection budget suitable for tests
// that exercise connection retries.
func Fast(pubSubSystem string) *Config {
	return &Config{
		PubSubSystem:           pubSubSystem,
		ConnectInitialInterval: time.Millisecond,
		ConnectMaxInterval:     5 * time.Millisecond,
		ConnectMaxElapsed:      200 * time.Millisecond,
	}
}

// Publisher records published messages and whether it was closed.
type Publisher struct {
	mu        sync.Mutex
	Published map[string][]*message.Message
	Err       error
	Closed    bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Published == nil {
		p.Published = make(map[string][]*message.Message)
	}
	p.Published[topic] = append(p.Published[topic], messages...)
	return nil
}

// Messages returns a copy of the messages published to topic.
func (p *Publisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.Published[topic]...)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Subscriber hands out channels that never deliver.
type Subscriber struct {
	Closed bool
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}

func (s *Subscriber) Close() error {
	s.Closed = true
	return nil
}
