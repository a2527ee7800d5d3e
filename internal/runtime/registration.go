package runtime

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/xrayflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/xrayflow/internal/runtime/logging"
)

// MessageHandlerRegistration wires a consuming handler onto the router.
type MessageHandlerRegistration struct {
	Name         string
	ConsumeQueue string
	Handler      message.HandlerFunc
	// Subscriber overrides the service subscriber.
	Subscriber message.Subscriber
}

// RegisterMessageHandler attaches the provided handler to the service router.
// Handlers only consume; anything they return is discarded.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return svc.registerHandler(cfg)
}

func (s *Service) registerHandler(cfg MessageHandlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errspkg.ErrConsumeQueueRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}

	stats := newHandlerStats()
	info := &HandlerInfo{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		Stats:        stats,
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	handler := wrapHandlerWithStats(cfg.Handler, stats, s.errorClassifier)
	s.router.AddNoPublisherHandler(cfg.Name, cfg.ConsumeQueue, cfg.Subscriber, func(msg *message.Message) error {
		_, err := handler(msg)
		return err
	})

	s.Logger.Info("Registered handler", loggingpkg.LogFields{
		"handler": cfg.Name,
		"queue":   cfg.ConsumeQueue,
	})
	return nil
}

// Handlers returns the registered handlers.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return append([]*HandlerInfo(nil), s.handlers...)
}

func wrapHandlerWithStats(handler message.HandlerFunc, stats *HandlerStats, classifier ErrorClassifier) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		stats.onMessageStart(msg)
		start := time.Now()
		msgs, err := handler(msg)
		stats.onMessageFinish(time.Since(start), err, classifier)
		return msgs, err
	}
}
