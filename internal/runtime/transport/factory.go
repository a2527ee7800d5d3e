// Package transport resolves the configured broker into a publisher and
// subscriber pair for the ingestion service.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/xrayflow/internal/runtime/config"
	"github.com/drblury/xrayflow/transport"

	_ "github.com/drblury/xrayflow/transport/transports"
)

// Factory abstracts how the service initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if conf == nil {
		return transport.Transport{}, fmt.Errorf("config is required")
	}
	return transport.Build(ctx, conf, logger)
}

// Capabilities reports the delivery guarantees of the configured broker.
func Capabilities(conf *config.Config) transport.Capabilities {
	if conf == nil {
		return transport.Capabilities{}
	}
	return transport.GetCapabilities(conf.PubSubSystem)
}
