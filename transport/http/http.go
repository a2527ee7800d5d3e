// Package http provides an HTTP transport. Producers POST messages to
// <HTTP_PUBLISHER_URL>/<queue>; the subscriber serves the same path on
// HTTP_INGEST_ADDRESS.
package http

import (
	"context"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/xrayflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	publisherURL := strings.TrimRight(cfg.GetHTTPPublisherURL(), "/")

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(publisherURL+topicPath(topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		cfg.GetHTTPServerAddress(),
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &routeSubscriber{Subscriber: subscriber, logger: logger},
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

func topicPath(topic string) string {
	if strings.HasPrefix(topic, "/") {
		return topic
	}
	return "/" + topic
}

// routeSubscriber maps queue names to URL paths and starts the ingest
// server after the first route is registered.
type routeSubscriber struct {
	message.Subscriber
	logger    watermill.LoggerAdapter
	startOnce sync.Once
}

func (s *routeSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	messages, err := s.Subscriber.Subscribe(ctx, topicPath(topic))
	if err != nil {
		return nil, err
	}

	s.startOnce.Do(func() {
		server, ok := s.Subscriber.(*http.Subscriber)
		if !ok {
			return
		}
		go func() {
			if err := server.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
				s.logger.Error("Failed to start HTTP subscriber server", err, nil)
			}
		}()
	})

	return messages, nil
}
