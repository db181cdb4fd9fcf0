package glue

import (
	"context"
	"io"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/glue/internal/runtime"
	configpkg "github.com/drblury/glue/internal/runtime/config"
	"github.com/drblury/glue/internal/runtime/console"
	errspkg "github.com/drblury/glue/internal/runtime/errors"
	handlerpkg "github.com/drblury/glue/internal/runtime/handlers"
	idspkg "github.com/drblury/glue/internal/runtime/ids"
	"github.com/drblury/glue/internal/runtime/inspect"
	jsoncodec "github.com/drblury/glue/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
	"github.com/drblury/glue/transport"
	_ "github.com/drblury/glue/transport/transports"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Registry         = runtimepkg.Registry
	Registration     = runtimepkg.Registration
	Registrations    = runtimepkg.Registrations
	Trigger          = runtimepkg.Trigger
	TriggerRegistrar = runtimepkg.TriggerRegistrar
	Handler          = runtimepkg.Handler
	RegisterOption   = runtimepkg.RegisterOption
	State            = runtimepkg.State

	CredentialFetcher = runtimepkg.CredentialFetcher
	Credential        = runtimepkg.Credential

	TriggerEvent = runtimepkg.TriggerEvent
	Invocation   = runtimepkg.Invocation
	IngressReply = runtimepkg.IngressReply

	JSONEvent[T any]                     = handlerpkg.JSONEvent[T]
	JSONTriggerHandler[T any]            = handlerpkg.JSONTriggerHandler[T]
	ProtoEvent[T proto.Message]          = handlerpkg.ProtoEvent[T]
	ProtoTriggerHandler[T proto.Message] = handlerpkg.ProtoTriggerHandler[T]
	EventContextBase                     = handlerpkg.EventContextBase

	DispatchFunc           = runtimepkg.DispatchFunc
	DispatchMiddleware     = runtimepkg.DispatchMiddleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Dispatch lifecycle hooks
	DispatchContext = runtimepkg.DispatchContext
	DispatchHooks   = runtimepkg.DispatchHooks

	TriggerInfo     = runtimepkg.TriggerInfo
	TriggerStats    = runtimepkg.TriggerStats
	ProcessUsage    = runtimepkg.ProcessUsage
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	LogEntry   = console.LogEntry
	Result     = console.Result
	Stream     = console.Stream
	Sink       = console.Sink
	PanicError = console.PanicError
	InspectMap = inspect.Map
	InspectSet = inspect.Set

	Metadata      = metadatapkg.Metadata
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	DuplicateLabelError         = errspkg.DuplicateLabelError
	UnknownTriggerError         = errspkg.UnknownTriggerError
	CredentialFetchError        = errspkg.CredentialFetchError
	TriggerEventValidationError = errspkg.TriggerEventValidationError
	ConfigValidationError       = errspkg.ConfigValidationError

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	NewRegistry    = runtimepkg.NewRegistry
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.Load
	LoadConfigFile = configpkg.LoadFile
	ConfigFromEnv  = configpkg.FromEnv

	WithLabel          = runtimepkg.WithLabel
	WithDescription    = runtimepkg.WithDescription
	DecodeTriggerEvent = runtimepkg.DecodeTriggerEvent
	InInvocation       = runtimepkg.InInvocation

	DefaultMiddlewares       = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware  = runtimepkg.CorrelationIDMiddleware
	LogInvocationsMiddleware = runtimepkg.LogInvocationsMiddleware
	TracerMiddleware         = runtimepkg.TracerMiddleware
	MetricsMiddleware        = runtimepkg.MetricsMiddleware
	StatsMiddleware          = runtimepkg.StatsMiddleware
	RecovererMiddleware      = runtimepkg.RecovererMiddleware

	// Dispatch lifecycle hooks
	DispatchHooksMiddleware = runtimepkg.DispatchHooksMiddleware
	LoggingHooks            = runtimepkg.LoggingHooks
	MetricsHooks            = runtimepkg.MetricsHooks
	AlertingHooks           = runtimepkg.AlertingHooks

	// Console output attributed to the running invocation
	Log            = console.Log
	Info           = console.Info
	Warn           = console.Warn
	Error          = console.Error
	Printf         = console.Printf
	Errorf         = console.Errorf
	StdoutWriter   = console.StdoutWriter
	StderrWriter   = console.StderrWriter
	SetConsoleSink = console.SetDefault

	Inspect       = inspect.Format
	NewInspectMap = inspect.NewMap
	NewInspectSet = inspect.NewSet
	Undefined     = inspect.Undefined

	RegisterTransport = transport.Register
	BuildTransport    = transport.Build
	GetCapabilities   = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired        = errspkg.ErrServiceRequired
	ErrHandlerRequired        = errspkg.ErrHandlerRequired
	ErrTriggerTypeRequired    = errspkg.ErrTriggerTypeRequired
	ErrCredentialTypeRequired = errspkg.ErrCredentialTypeRequired
	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrAlreadyInitialized     = errspkg.ErrAlreadyInitialized
	ErrAlreadyStarted         = errspkg.ErrAlreadyStarted
	ErrDuplicateLabel         = errspkg.ErrDuplicateLabel
	ErrUnknownTrigger         = errspkg.ErrUnknownTrigger
	ErrNotYetReady            = errspkg.ErrNotYetReady
	ErrCredentialFetch        = errspkg.ErrCredentialFetch
	ErrAuthorityNotConfigured = errspkg.ErrAuthorityNotConfigured
	ErrInvalidTriggerEvent    = errspkg.ErrInvalidTriggerEvent
	ErrInvalidPayload         = errspkg.ErrInvalidPayload

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	NewInvocationID = idspkg.NewInvocationID
)

// Lifecycle states of a Registry.
const (
	StateOpen           = runtimepkg.StateOpen
	StateScheduledClose = runtimepkg.StateScheduledClose
	StateClosed         = runtimepkg.StateClosed
)

// Metadata keys set on every invocation.
const (
	MetadataKeyDeploymentID  = metadatapkg.KeyDeploymentID
	MetadataKeyAuthorization = metadatapkg.KeyAuthorization
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyInvocationID  = metadatapkg.KeyInvocationID
	MetadataKeyTriggerType   = metadatapkg.KeyTriggerType
	MetadataKeyTriggerLabel  = metadatapkg.KeyTriggerLabel
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryPayload    = runtimepkg.ErrorCategoryPayload
	ErrorCategoryCredential = runtimepkg.ErrorCategoryCredential
	ErrorCategoryCanceled   = runtimepkg.ErrorCategoryCanceled
	ErrorCategoryPanic      = runtimepkg.ErrorCategoryPanic
	ErrorCategoryHandler    = runtimepkg.ErrorCategoryHandler
)

// Console streams.
const (
	Stdout = console.Stdout
	Stderr = console.Stderr
)

// defaultRegistry backs the package level registration functions.
var defaultRegistry = runtimepkg.NewRegistry()

// DefaultRegistry returns the registry used by RegisterTrigger,
// RegisterCredential and Serve.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterTrigger registers handler for triggerType on the default registry.
// Register every trigger before calling Serve.
func RegisterTrigger(triggerType string, handler Handler, config map[string]any, opts ...RegisterOption) error {
	return defaultRegistry.RegisterTrigger(triggerType, handler, config, opts...)
}

// RegisterCredential registers a credential request on the default registry.
func RegisterCredential(credentialType string, config map[string]any, opts ...RegisterOption) (*CredentialFetcher, error) {
	return defaultRegistry.RegisterCredential(credentialType, config, opts...)
}

// RegisterJSONTrigger registers a trigger whose data decodes into T. A nil
// registrar selects the default registry.
func RegisterJSONTrigger[T any](r TriggerRegistrar, triggerType string, handler JSONTriggerHandler[T], config map[string]any, opts ...RegisterOption) error {
	if r == nil {
		r = defaultRegistry
	}
	return runtimepkg.RegisterJSONTrigger(r, triggerType, handler, config, opts...)
}

// RegisterProtoTrigger registers a trigger whose data is the protojson
// encoding of T. A nil registrar selects the default registry.
func RegisterProtoTrigger[T proto.Message](r TriggerRegistrar, triggerType string, handler ProtoTriggerHandler[T], config map[string]any, opts ...RegisterOption) error {
	if r == nil {
		r = defaultRegistry
	}
	return runtimepkg.RegisterProtoTrigger(r, triggerType, handler, config, opts...)
}

// NewDefaultService builds a Service serving the default registry. A nil
// logger logs JSON to stderr through zap.
func NewDefaultService(conf *Config, logger ServiceLogger) (*Service, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	if logger == nil {
		zl, err := zap.NewProduction()
		if err != nil {
			return nil, nil, err
		}
		logger = loggingpkg.NewZapServiceLogger(zl)
		closer = zapSyncer{zl}
	}
	svc, err := runtimepkg.NewService(conf, logger, ServiceDependencies{Registry: defaultRegistry})
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return svc, closer, nil
}

// Serve loads the configuration (GLUE_CONFIG_FILE, then GLUE_* variables)
// and serves the default registry until ctx is cancelled. Registrations made
// after Serve was called fail with ErrAlreadyInitialized.
func Serve(ctx context.Context) error {
	conf, err := configpkg.Load()
	if err != nil {
		return err
	}
	svc, closer, err := NewDefaultService(conf, nil)
	if err != nil {
		return err
	}
	defer closer.Close()
	return svc.Start(ctx)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type zapSyncer struct{ log *zap.Logger }

func (z zapSyncer) Close() error {
	_ = z.log.Sync()
	return nil
}
