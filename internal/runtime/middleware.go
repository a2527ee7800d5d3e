package runtime

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errspkg "github.com/drblury/xrayflow/internal/runtime/errors"
	idspkg "github.com/drblury/xrayflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/xrayflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/xrayflow/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard chain, outermost first. Failed
// deliveries are never retried in-process: unprocessable ones are routed
// or dropped, the rest go back to the broker.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		UnprocessableMiddleware(nil),
		RedeliveryMiddleware(),
		DedupMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds watermill's Prometheus router metrics and serves
// /metrics on the metrics port.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled || s.registerer == nil {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.registerer,
				"xrayflow",
				s.Conf.PubSubSystem,
			)
			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
			}

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return correlationIDMiddleware, nil
		},
	}
}

// LogMessagesMiddleware logs every delivery at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return tracerMiddleware, nil
		},
	}
}

// UnprocessableMiddleware handles deliveries that redelivery cannot fix.
// With a poison queue configured they are published there; otherwise they
// are logged and acknowledged. A nil filter matches malformed and
// untransformable payloads.
func UnprocessableMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "unprocessable",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			f := filter
			if f == nil {
				f = errspkg.IsUnprocessable
			}
			if s.Conf.PoisonQueue != "" {
				return s.poisonMiddlewareWithFilter(f)
			}
			return s.discardMiddleware(f), nil
		},
	}
}

// RedeliveryMiddleware waits RedeliveryDelay before a failed delivery is
// nacked, so a failing store is not hammered by instant redeliveries.
func RedeliveryMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "redelivery",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.redeliveryMiddleware(s.Conf.RedeliveryDelay), nil
		},
	}
}

// DedupMiddleware acknowledges deliveries already saved within the
// deduplication window. It is a no-op for the "none" policy.
func DedupMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "dedup",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.dedup == nil {
				return nil, nil
			}
			return s.dedup.Middleware(func(msg *message.Message, key string) {
				s.delivery.RecordDuplicate()
				s.Logger.Info("Duplicate delivery acknowledged", loggingpkg.LogFields{
					"message_uuid": msg.UUID,
					"dedup_key":    key,
				})
			}), nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid":   msg.UUID,
				"payload_size":   len(msg.Payload),
				"correlation_id": msg.Metadata.Get(metadatapkg.KeyCorrelationID),
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		tracer := otel.Tracer("xrayflow/runtime")
		ctx, span := tracer.Start(msg.Context(), "ProcessMessage")
		defer span.End()
		msg.SetContext(ctx)

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("message.correlation_id", msg.Metadata.Get(metadatapkg.KeyCorrelationID)),
			attribute.Int("message.payload_size", len(msg.Payload)),
		)
		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}

// poisonMiddlewareWithFilter publishes matching failures to the poison queue.
func (s *Service) poisonMiddlewareWithFilter(filter func(err error) bool) (message.HandlerMiddleware, error) {
	if s.publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}

	mw, err := middleware.PoisonQueueWithFilter(s.publisher, s.Conf.PoisonQueue, filter)
	if err != nil {
		return nil, err
	}

	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			var handlerErr error
			msgs, err := mw(func(m *message.Message) ([]*message.Message, error) {
				out, err := h(m)
				handlerErr = err
				return out, err
			})(msg)
			if err == nil && handlerErr != nil {
				s.delivery.RecordPoisoned(s.Conf.PoisonQueue)
				loggingpkg.WithTraceContext(msg.Context(), s.Logger).Error("Unprocessable message moved to poison queue", handlerErr, loggingpkg.LogFields{
					"message_uuid": msg.UUID,
					"poison_queue": s.Conf.PoisonQueue,
				})
			}
			return msgs, err
		}
	}, nil
}

func (s *Service) discardMiddleware(filter func(error) bool) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err == nil || !filter(err) {
				return msgs, err
			}
			s.delivery.RecordDiscarded()
			loggingpkg.WithTraceContext(msg.Context(), s.Logger).Error("Unprocessable message acknowledged and dropped", err, loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"category":     string(s.errorClassifier(err)),
			})
			return nil, nil
		}
	}
}

func (s *Service) redeliveryMiddleware(delay time.Duration) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err == nil || errspkg.IsUnprocessable(err) {
				return msgs, err
			}

			s.delivery.RecordRedelivery()
			loggingpkg.WithTraceContext(msg.Context(), s.Logger).Error("Delivery failed, returning it to the broker", err, loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"delay":        delay.String(),
			})
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-msg.Context().Done():
				}
			}
			return msgs, err
		}
	}
}
