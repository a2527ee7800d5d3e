package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/xrayflow/internal/runtime/config"
	errspkg "github.com/drblury/xrayflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/xrayflow/internal/runtime/logging"
	transportpkg "github.com/drblury/xrayflow/internal/runtime/transport"
	"github.com/drblury/xrayflow/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ShutdownTimeout bounds how long HTTP servers get to drain on shutdown.
var ShutdownTimeout = 10 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool
	TransportFactory          transportpkg.Factory
	ErrorClassifier           ErrorClassifier
	// Registerer receives router and delivery metrics. Defaults to the
	// global registry when metrics are enabled.
	Registerer prometheus.Registerer
}

// Service wires a Watermill router, the broker connection, the middleware
// chain and the HTTP servers of the ingestion process.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport  transport.Transport
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	registerer      prometheus.Registerer
	delivery        *DeliveryMetrics
	dedup           *Deduplicator
	process         *processTracker
}

// NewService connects to the configured broker and builds the router. A
// broker that stays unreachable past the connection budget is returned as
// an error. Register handlers on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating ingestion service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"queue":         conf.Queue,
		"config":        conf.String(),
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		errorClassifier: deps.ErrorClassifier,
		registerer:      deps.Registerer,
		process:         newProcessTracker(),
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}
	if s.registerer == nil && conf.MetricsEnabled {
		s.registerer = prometheus.DefaultRegisterer
	}

	s.delivery = NewDeliveryMetrics(s.registerer)
	if err := s.delivery.Register(); err != nil {
		return nil, fmt.Errorf("register delivery metrics: %w", err)
	}
	if conf.DedupEnabled() {
		s.dedup = NewDeduplicator(conf.DedupPolicy, conf.DedupSize, conf.DedupWindow)
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conf.PubSubSystem, err)
	}
	s.transport = tr
	s.publisher = tr.Publisher
	s.subscriber = tr.Subscriber

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: ShutdownTimeout}, wmLogger)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return s, nil
}

// Start serves the registered HTTP handlers and runs the router until ctx is
// cancelled. HTTP servers are shut down once the router stops.
func (s *Service) Start(ctx context.Context) error {
	s.StartStatusServer()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	servers := s.startHTTPServers(cancel)
	err := routerRun(s.router, ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer stop()
	for _, srv := range servers {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			s.Logger.Error("HTTP server shutdown failed", shutdownErr, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
	return err
}

// Running is closed once the router handlers are up.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router and the broker connection.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil {
		errs = append(errs, s.router.Close())
	}
	errs = append(errs, s.transport.Close())
	return errors.Join(errs...)
}

// Publisher returns the broker publisher used by the service.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Registerer returns the metrics registry in use, or nil when metrics are
// disabled.
func (s *Service) Registerer() prometheus.Registerer { return s.registerer }

// Delivery returns the delivery outcome counters.
func (s *Service) Delivery() *DeliveryMetrics { return s.delivery }

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// RegisterHTTPHandler mounts handler on the server listening on port.
// Patterns follow net/http ServeMux syntax, including method prefixes.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(onFailure context.CancelFunc) []*http.Server {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           s.withCORS(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
				onFailure()
			}
		}()
	}
	return servers
}
