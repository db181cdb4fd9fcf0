package runtime

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errspkg "github.com/drblury/glue/internal/runtime/errors"
	jsoncodec "github.com/drblury/glue/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

// Control-plane routes.
const (
	RouteGetRegistrations      = "/__glue__/getRegistrations"
	RouteGetRegisteredTriggers = "/__glue__/getRegisteredTriggers"
	RouteTriggerEvent          = "/__glue__/triggerEvent"
	RouteStats                 = "/__glue__/stats"
	RouteHealth                = "/__glue__/health"
	RouteMetrics               = "/metrics"
)

const maxTriggerEventBytes = 10 << 20

type registrationsResponse struct {
	Triggers           []Registration `json:"triggers"`
	CredentialRequests []Registration `json:"credentialRequests"`
	AccountInjections  []Registration `json:"accountInjections"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type healthResponse struct {
	State    State        `json:"state"`
	Triggers int          `json:"triggers"`
	Process  ProcessUsage `json:"process"`
}

// Handler returns the control-plane HTTP handler. It is built once. Building
// it closes the registry, so register everything before mounting it.
func (s *Service) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.beginServing()
		s.handler = s.newRouter()
	})
	return s.handler
}

func (s *Service) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get(RouteGetRegistrations, s.handleGetRegistrations)
	r.Get(RouteGetRegisteredTriggers, s.handleGetRegisteredTriggers)
	r.Post(RouteTriggerEvent, s.handleTriggerEvent)
	r.Get(RouteStats, s.handleStats)
	r.Get(RouteHealth, s.handleHealth)
	if s.metricsGatherer != nil {
		r.Method(http.MethodGet, RouteMetrics, promhttp.HandlerFor(s.metricsGatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("Control plane request", loggingpkg.LogFields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := jsoncodec.Marshal(body)
	if err != nil {
		s.Logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Service) handleGetRegistrations(w http.ResponseWriter, r *http.Request) {
	regs := s.registry.Registrations()
	s.writeJSON(w, http.StatusOK, registrationsResponse{
		Triggers:           regs.Triggers,
		CredentialRequests: regs.CredentialRequests,
		AccountInjections:  regs.CredentialRequests,
	})
}

func (s *Service) handleGetRegisteredTriggers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Triggers())
}

func (s *Service) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerEventBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   errspkg.ErrInvalidTriggerEvent.Error(),
			Details: []string{"body: " + err.Error()},
		})
		return
	}

	event, err := DecodeTriggerEvent(body)
	if err != nil {
		resp := errorResponse{Error: errspkg.ErrInvalidTriggerEvent.Error()}
		var validation *errspkg.TriggerEventValidationError
		if errors.As(err, &validation) {
			resp.Details = validation.Details
		}
		s.writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	md := metadatapkg.FromHeader(r.Header, s.Conf.DeploymentHeader)
	result, err := s.Invoke(r.Context(), event, md)
	if err != nil {
		var unknown *errspkg.UnknownTriggerError
		if errors.As(err, &unknown) {
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		s.Logger.Error("Trigger dispatch failed", err, loggingpkg.LogFields{
			"trigger_type":  event.Type,
			"trigger_label": event.Label,
		})
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		State:    s.registry.State(),
		Triggers: len(s.registry.Triggers()),
		Process:  s.process.Sample(),
	})
}
