package xrayflow

import (
	"github.com/drblury/xrayflow/internal/broadcast"
	"github.com/drblury/xrayflow/internal/pipeline"
	"github.com/drblury/xrayflow/internal/producer"
	"github.com/drblury/xrayflow/internal/query"
	runtimepkg "github.com/drblury/xrayflow/internal/runtime"
	configpkg "github.com/drblury/xrayflow/internal/runtime/config"
	errspkg "github.com/drblury/xrayflow/internal/runtime/errors"
	idspkg "github.com/drblury/xrayflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/xrayflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/xrayflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/xrayflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/xrayflow/internal/runtime/transport"
	"github.com/drblury/xrayflow/internal/store"
	"github.com/drblury/xrayflow/internal/xray"
	newtransport "github.com/drblury/xrayflow/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = newtransport.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	MessageHandlerRegistration = runtimepkg.MessageHandlerRegistration
	MiddlewareBuilder          = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration     = runtimepkg.MiddlewareRegistration

	Producer = runtimepkg.Producer
	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	HandlerInfo      = runtimepkg.HandlerInfo
	HandlerStats     = runtimepkg.HandlerStats
	DeliveryMetrics  = runtimepkg.DeliveryMetrics
	DeliverySnapshot = runtimepkg.DeliverySnapshot
	Deduplicator     = runtimepkg.Deduplicator

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = errspkg.Category

	// Pipeline errors
	MalformedMessageError = errspkg.MalformedMessageError
	TransformationError   = errspkg.TransformationError
	PersistenceError      = errspkg.PersistenceError
	NotFoundError         = errspkg.NotFoundError

	// Telemetry model
	Record      = xray.Record
	Draft       = xray.Draft
	Sample      = xray.Sample
	Coordinates = xray.Coordinates
	Message     = xray.Message
	Transformer = xray.Transformer

	Store       = store.Store
	StoreFilter = store.Filter
	StorePatch  = store.Patch

	Broadcaster      = broadcast.Broadcaster
	BroadcastOptions = broadcast.Options
	Event            = broadcast.Event
	EventStep        = broadcast.Step
	EventKind        = broadcast.Kind
	Emitter          = broadcast.Emitter
	Subscription     = broadcast.Subscription
	EventSink        = broadcast.Sink

	Consumer        = pipeline.Consumer
	ConsumerOptions = pipeline.Options

	QueryService  = query.Service
	QueryOptions  = query.Options
	QueryCriteria = query.Criteria
	Page          = query.Page
	PageResult    = query.Result

	SampleProducer        = producer.Producer
	SampleProducerOptions = producer.Options

	// Transport capabilities
	TransportCapabilities = newtransport.Capabilities
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
)

var (
	LoadConfig     = configpkg.Load
	LoadConfigFile = configpkg.LoadFile
	NewService     = runtimepkg.NewService

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler
	Publish                = runtimepkg.Publish
	NewMessage             = runtimepkg.NewMessage

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	UnprocessableMiddleware = runtimepkg.UnprocessableMiddleware
	RedeliveryMiddleware    = runtimepkg.RedeliveryMiddleware
	DedupMiddleware         = runtimepkg.DedupMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	NewDeliveryMetrics = runtimepkg.NewDeliveryMetrics
	NewDeduplicator    = runtimepkg.NewDeduplicator
	HealthHandler      = runtimepkg.HealthHandler
	CORS               = runtimepkg.CORS

	Decode       = xray.Decode
	PeekDeviceID = xray.PeekDeviceID
	EncodeBatch  = xray.Encode
	PayloadSize  = xray.PayloadSize
	CheckRanges  = xray.CheckRanges

	OpenStore      = store.Open
	NewMemoryStore = store.NewMemory
	WithTimeout    = store.WithTimeout

	NewBroadcaster   = broadcast.New
	NewPublisherSink = broadcast.NewPublisherSink
	EventsHandler    = broadcast.Handler

	NewConsumer        = pipeline.NewConsumer
	RegisterConsumer   = pipeline.Register
	NewPipelineMetrics = pipeline.NewMetrics

	NewQueryService = query.NewService
	NewQueryHandler = query.NewHandler
	NewPage         = query.NewPage
	Paginate        = query.Paginate

	NewSampleProducer = producer.New

	// Modular transport registry. Import individual transports via
	// _ "github.com/drblury/xrayflow/transport/kafka".
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrStoreRequired        = errspkg.ErrStoreRequired
	ErrEmitterRequired      = errspkg.ErrEmitterRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrMalformedMessage     = errspkg.ErrMalformedMessage
	ErrTransformation       = errspkg.ErrTransformation
	ErrPersistence          = errspkg.ErrPersistence
	ErrNotFound             = errspkg.ErrNotFound
	ErrInvalidPagination    = errspkg.ErrInvalidPagination
	ErrInvalidRequest       = errspkg.ErrInvalidRequest
	IsUnprocessable         = errspkg.IsUnprocessable
	ClassifyError           = errspkg.Classify

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONLogger        = loggingpkg.NewJSONLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys set on queue messages.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyDeviceID      = metadatapkg.KeyDeviceID
	MetadataKeyEnqueuedAt    = metadatapkg.KeyEnqueuedAt
	MetadataKeyContentType   = metadatapkg.KeyContentType
	MetadataKeySource        = metadatapkg.KeySource
)

// Process steps and event kinds.
const (
	StepMessageReceived = broadcast.StepMessageReceived
	StepProcessing      = broadcast.StepProcessing
	StepSaved           = broadcast.StepSaved
	StepError           = broadcast.StepError

	KindProcessStep   = broadcast.KindProcessStep
	KindSignalCreated = broadcast.KindSignalCreated
	KindSignalUpdated = broadcast.KindSignalUpdated
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = errspkg.CategoryNone
	ErrorCategoryValidation = errspkg.CategoryValidation
	ErrorCategoryDownstream = errspkg.CategoryDownstream
	ErrorCategoryOther      = errspkg.CategoryOther
)
