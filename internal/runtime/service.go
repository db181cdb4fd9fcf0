package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/glue/internal/runtime/config"
	"github.com/drblury/glue/internal/runtime/console"
	errspkg "github.com/drblury/glue/internal/runtime/errors"
	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
	"github.com/drblury/glue/transport"
)

const shutdownTimeout = 10 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	Hooks                     DispatchHooks
	ErrorClassifier           ErrorClassifier

	// Registry lets several services, or a service and package level
	// helpers, share registrations.
	Registry *Registry
	// Sink receives console output in addition to the per-invocation capture.
	Sink console.Sink
	// HTTPClient is used for credential fetches.
	HTTPClient *http.Client
	// Transport feeds the ingress instead of one built from the configuration.
	Transport *transport.Transport
	// MetricsRegistry collects dispatch metrics when metrics are enabled.
	MetricsRegistry *prometheus.Registry

	// Exit and Dial replace os.Exit and the TCP dialer of the supervisor tether.
	Exit func(code int)
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Service owns the registry and serves it: the loopback control plane, the
// optional message ingress and the supervisor tether.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	deps     ServiceDependencies
	registry *Registry

	sink    console.Sink
	closers []io.Closer

	credentials     *credentialClient
	errorClassifier ErrorClassifier

	metrics           *dispatchMetrics
	metricsRegisterer prometheus.Registerer
	metricsGatherer   prometheus.Gatherer
	process           *processSampler

	statsMu sync.Mutex
	stats   map[statsKey]*TriggerStats

	chainMu     sync.RWMutex
	middlewares []DispatchMiddleware
	chain       DispatchFunc
	started     bool
	serveOnce   sync.Once

	handlerOnce sync.Once
	handler     http.Handler

	mu           sync.Mutex
	running      bool
	server       *http.Server
	listener     net.Listener
	ingress      *ingress
	ready        chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewService constructs a Service for the supplied configuration. Register
// triggers and credentials on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	resolved := conf.WithDefaults()
	if deps.Transport != nil {
		resolved = resolved.WithIngressDefaults()
	}
	if err := resolved.Validate(); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}

	log.Info("Creating glue runtime", loggingpkg.LogFields{
		"listen_address":    resolved.ListenAddress(),
		"ingress_transport": resolved.IngressTransport,
		"config":            resolved.String(),
	})

	s := &Service{
		Conf:            &resolved,
		Logger:          log,
		deps:            deps,
		registry:        deps.Registry,
		errorClassifier: deps.ErrorClassifier,
		process:         newProcessSampler(),
		ready:           make(chan struct{}),
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	s.sink = deps.Sink
	if s.sink == nil {
		s.sink = console.Default()
	}
	if resolved.ConsoleLogFile != "" {
		file := console.NewFileSink(resolved.ConsoleLogFile, resolved.ConsoleLogMaxSizeMB, resolved.ConsoleLogMaxBackups)
		s.sink = console.Tee{s.sink, file}
		s.closers = append(s.closers, file)
	}

	s.credentials = &credentialClient{
		authority: resolved.AuthorityURL,
		client:    deps.HTTPClient,
		timeout:   resolved.CredentialTimeout,
		logger:    log,
	}

	if resolved.MetricsEnabled {
		reg := deps.MetricsRegistry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		s.metricsRegisterer = reg
		s.metricsGatherer = reg
		m, err := newDispatchMetrics(reg, s.errorClassifier)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		s.metrics = m
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares)+1)
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)
	if !deps.Hooks.IsZero() {
		registrations = append(registrations, DispatchHooksMiddleware(deps.Hooks))
	}

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

// Registry returns the registry the service serves.
func (s *Service) Registry() *Registry {
	return s.registry
}

// RegisterTrigger registers a trigger handler. See Registry.RegisterTrigger.
func (s *Service) RegisterTrigger(triggerType string, handler Handler, config map[string]any, opts ...RegisterOption) error {
	return s.registry.RegisterTrigger(triggerType, handler, config, opts...)
}

// RegisterCredential registers a credential request. See Registry.RegisterCredential.
func (s *Service) RegisterCredential(credentialType string, config map[string]any, opts ...RegisterOption) (*CredentialFetcher, error) {
	return s.registry.RegisterCredential(credentialType, config, opts...)
}

// Ready is closed once the control plane accepts connections and the ingress
// is running.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound control-plane address, or "" before Start bound it.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start closes the registry and serves it until ctx is cancelled or the
// control plane fails. It then shuts the service down. A Service can only be
// started once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errspkg.ErrAlreadyStarted
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr, err := s.listen(ctx)
	if err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}

	var ingressErr <-chan error
	if s.ingress != nil {
		ingressErr = s.ingress.done
	}

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case err = <-ingressErr:
		if err != nil {
			err = fmt.Errorf("ingress: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return errors.Join(err, s.Shutdown(shutdownCtx))
}

// beginServing ends the registration phase: the registry is closed and the
// middleware chain is frozen. It runs before the first dispatch.
func (s *Service) beginServing() {
	s.serveOnce.Do(func() {
		s.registry.Close()
		s.chainMu.Lock()
		s.started = true
		s.chainMu.Unlock()
	})
}

func (s *Service) listen(ctx context.Context) (<-chan error, error) {
	s.beginServing()

	if addr := s.Conf.SupervisorAddress; addr != "" {
		t := &tether{addr: addr, logger: s.Logger, exit: s.deps.Exit, dial: s.deps.Dial}
		if t.exit == nil {
			t.exit = os.Exit
		}
		if t.dial == nil {
			t.dial = (&net.Dialer{}).DialContext
		}
		if err := t.hold(ctx); err != nil {
			return nil, err
		}
	}

	if s.Conf.IngressTransport != "" || s.deps.Transport != nil {
		in, err := s.buildIngress(ctx)
		if err != nil {
			return nil, fmt.Errorf("ingress: %w", err)
		}
		s.mu.Lock()
		s.ingress = in
		s.mu.Unlock()
		if err := in.run(ctx); err != nil {
			return nil, fmt.Errorf("ingress: %w", err)
		}
		s.Logger.Info("Ingress running", loggingpkg.LogFields{
			"topic":       s.Conf.IngressTopic,
			"reply_topic": s.Conf.IngressReplyTopic,
		})
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.Conf.ListenAddress())
	if err != nil {
		return nil, fmt.Errorf("control plane: %w", err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	regs := s.registry.Registrations()
	s.Logger.Info("Control plane listening", loggingpkg.LogFields{
		"address":     listener.Addr().String(),
		"triggers":    len(regs.Triggers),
		"credentials": len(regs.CredentialRequests),
	})
	close(s.ready)
	return serveErr, nil
}

// Shutdown stops the control plane and the ingress and releases the console
// log file. It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		server, in := s.server, s.ingress
		s.mu.Unlock()

		var errs []error
		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("control plane: %w", err))
			}
		}
		if in != nil {
			if err := in.close(); err != nil {
				errs = append(errs, fmt.Errorf("ingress: %w", err))
			}
		}
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.shutdownErr = errors.Join(errs...)
		s.Logger.Info("Glue runtime stopped", nil)
	})
	return s.shutdownErr
}
