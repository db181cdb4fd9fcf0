package runtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/glue/internal/runtime/console"
	errspkg "github.com/drblury/glue/internal/runtime/errors"
	jsoncodec "github.com/drblury/glue/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
	"github.com/drblury/glue/transport"
)

const ingressHandlerName = "glue_trigger_ingress"

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// IngressReply is published to the reply topic for every consumed trigger
// event. Status mirrors the HTTP status the control plane would answer with.
type IngressReply struct {
	Status    int                `json:"status"`
	Logs      []console.LogEntry `json:"logs,omitempty"`
	Error     *string            `json:"error,omitempty"`
	Details   []string           `json:"details,omitempty"`
	Truncated bool               `json:"truncated,omitempty"`
}

type ingress struct {
	transport transport.Transport
	router    *message.Router
	caps      transport.Capabilities
	done      chan error
}

func (s *Service) buildIngress(ctx context.Context) (*ingress, error) {
	wmLogger := loggingpkg.NewWatermillAdapter(s.Logger)

	tr := s.deps.Transport
	if tr == nil {
		built, err := transport.Build(ctx, s.Conf, wmLogger)
		if err != nil {
			return nil, err
		}
		tr = &built
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wmLogger)
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(middleware.CorrelationID, middleware.Recoverer)

	if s.metricsRegisterer != nil {
		metricsBuilder := metrics.NewPrometheusMetricsBuilder(s.metricsRegisterer, metricsNamespace, "ingress")
		metricsBuilder.AddPrometheusRouterMetrics(router)
	}

	in := &ingress{
		transport: *tr,
		router:    router,
		caps:      transport.GetCapabilities(s.Conf.IngressTransport),
		done:      make(chan error, 1),
	}

	if s.Conf.IngressReplyTopic != "" {
		router.AddHandler(
			ingressHandlerName,
			s.Conf.IngressTopic,
			tr.Subscriber,
			s.Conf.IngressReplyTopic,
			tr.Publisher,
			func(msg *message.Message) ([]*message.Message, error) {
				return s.handleIngressMessage(msg, in.caps)
			},
		)
	} else {
		router.AddConsumerHandler(
			ingressHandlerName,
			s.Conf.IngressTopic,
			tr.Subscriber,
			func(msg *message.Message) error {
				_, err := s.handleIngressMessage(msg, in.caps)
				return err
			},
		)
	}

	return in, nil
}

// run starts the router and returns once it is running or failed to start.
func (in *ingress) run(ctx context.Context) error {
	go func() {
		in.done <- routerRun(in.router, ctx)
	}()

	select {
	case <-in.router.Running():
		return nil
	case err := <-in.done:
		if err == nil {
			err = errors.New("ingress: router stopped before running")
		}
		return err
	}
}

func (in *ingress) close() error {
	return errors.Join(in.router.Close(), in.transport.Close())
}

// handleIngressMessage dispatches a trigger event carried by msg. Handler
// failures are part of the reply; the message is always acknowledged.
func (s *Service) handleIngressMessage(msg *message.Message, caps transport.Capabilities) ([]*message.Message, error) {
	if middleware.MessageCorrelationID(msg) == "" {
		middleware.SetCorrelationID(msg.UUID, msg)
	}

	reply := s.ingressReply(msg)
	s.Logger.Debug("Ingress trigger event handled", loggingpkg.LogFields{
		"message_uuid": msg.UUID,
		"status":       reply.Status,
	})

	payload, err := jsoncodec.Marshal(reply)
	if err != nil {
		return nil, err
	}
	if !caps.Fits(len(payload)) {
		reply.Logs = nil
		reply.Truncated = true
		if payload, err = jsoncodec.Marshal(reply); err != nil {
			return nil, err
		}
	}

	out := message.NewMessage(watermill.NewULID(), payload)
	return []*message.Message{out}, nil
}

func (s *Service) ingressReply(msg *message.Message) IngressReply {
	event, err := DecodeTriggerEvent(msg.Payload)
	if err != nil {
		text := errspkg.ErrInvalidTriggerEvent.Error()
		reply := IngressReply{Status: http.StatusBadRequest, Error: &text}
		var validation *errspkg.TriggerEventValidationError
		if errors.As(err, &validation) {
			reply.Details = validation.Details
		}
		return reply
	}

	md := metadatapkg.FromWatermill(msg.Metadata)
	result, err := s.Invoke(msg.Context(), event, md)
	if err != nil {
		text := err.Error()
		status := http.StatusInternalServerError
		if errors.Is(err, errspkg.ErrUnknownTrigger) {
			status = http.StatusNotFound
		}
		return IngressReply{Status: status, Error: &text}
	}

	return IngressReply{Status: http.StatusOK, Logs: result.Logs, Error: result.Error}
}
