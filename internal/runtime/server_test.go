package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/glue/internal/runtime/config"
	"github.com/drblury/glue/internal/runtime/console"
	errspkg "github.com/drblury/glue/internal/runtime/errors"
	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

func newTestControlPlane(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	svc.Registry().Close()
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, body string, header http.Header) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestControlPlaneWebhookScenario(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	counter := 0
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		counter++
		console.Log(ctx, "webhook callback")
		return nil
	}, nil))
	srv := newTestControlPlane(t, svc)

	status, body := doRequest(t, http.MethodGet, srv.URL+RouteGetRegisteredTriggers, "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"type":"webhook","label":"0","config":{}}]`, body)

	status, body = doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"webhook","label":"0","data":{}}`, nil)
	assert.Equal(t, http.StatusOK, status)

	var result console.Result
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	require.Len(t, result.Logs, 1)
	assert.Equal(t, console.Stdout, result.Logs[0].Type)
	assert.Equal(t, "webhook callback\n", result.Logs[0].Text)
	assert.Positive(t, result.Logs[0].Timestamp)
	assert.Nil(t, result.Error)
	assert.NotContains(t, body, `"error"`)
	assert.Equal(t, 1, counter)
}

func TestControlPlaneGetRegistrations(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	require.NoError(t, svc.RegisterTrigger("webhook", noopHandler, map[string]any{"path": "/gh"}))
	_, err := svc.RegisterCredential("github", map[string]any{"scopes": []any{"repo"}})
	require.NoError(t, err)
	srv := newTestControlPlane(t, svc)

	status, body := doRequest(t, http.MethodGet, srv.URL+RouteGetRegistrations, "", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{
		"triggers": [{"type":"webhook","label":"0","config":{"path":"/gh"}}],
		"credentialRequests": [{"type":"github","label":"1","config":{"scopes":["repo"]}}],
		"accountInjections": [{"type":"github","label":"1","config":{"scopes":["repo"]}}]
	}`, body)
}

func TestControlPlaneEmptyRegistry(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	srv := newTestControlPlane(t, svc)

	_, body := doRequest(t, http.MethodGet, srv.URL+RouteGetRegisteredTriggers, "", nil)
	assert.JSONEq(t, `[]`, body)

	_, body = doRequest(t, http.MethodGet, srv.URL+RouteGetRegistrations, "", nil)
	assert.JSONEq(t, `{"triggers":[],"credentialRequests":[],"accountInjections":[]}`, body)
}

func TestControlPlaneUnknownTrigger(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	require.NoError(t, svc.RegisterTrigger("webhook", noopHandler, nil))
	srv := newTestControlPlane(t, svc)

	status, body := doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"webhook","label":"7"}`, nil)

	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"error":"glue: unknown trigger webhook:7"}`, body)
	assert.NotContains(t, body, "logs")
}

func TestControlPlaneMalformedBody(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	srv := newTestControlPlane(t, svc)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `type=webhook`},
		{"empty", ``},
		{"missing label", `{"type":"webhook"}`},
		{"wrong type", `{"type":1,"label":"0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, status)
			var resp errorResponse
			require.NoError(t, json.Unmarshal([]byte(body), &resp))
			assert.Equal(t, "glue: invalid trigger event", resp.Error)
			assert.NotEmpty(t, resp.Details)
		})
	}
}

func TestControlPlaneHandlerErrorIsReported(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		return errors.New("card declined")
	}, nil))
	srv := newTestControlPlane(t, svc)

	status, body := doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"webhook","label":"0"}`, nil)

	assert.Equal(t, http.StatusOK, status)
	var result console.Result
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	require.NotNil(t, result.Error)
	assert.Equal(t, "card declined", *result.Error)
	require.Len(t, result.Logs, 1)
	assert.Equal(t, console.Stderr, result.Logs[0].Type)
}

func TestMountedControlPlaneClosesRegistrations(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	require.NoError(t, svc.RegisterTrigger("webhook", noopHandler, nil))
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)

	status, _ := doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"webhook","label":"0"}`, nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, StateClosed, svc.Registry().State())
	assert.ErrorIs(t, svc.RegisterTrigger("webhook", noopHandler, nil), errspkg.ErrAlreadyInitialized)
	_, err := svc.RegisterCredential("github", nil)
	assert.ErrorIs(t, err, errspkg.ErrAlreadyInitialized)
	assert.EqualError(t, svc.RegisterMiddleware(recordingMiddleware("late", new([]string))),
		"middlewares cannot be registered after the service started")
}

func TestControlPlaneCapturesRequestHeaders(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	var md metadatapkg.Metadata
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		md, _ = metadatapkg.FromContext(ctx)
		return nil
	}, nil))
	srv := newTestControlPlane(t, svc)

	header := http.Header{}
	header.Set(metadatapkg.DefaultDeploymentHeader, "dep-42")
	header.Set("Authorization", "Bearer abc")
	status, _ := doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"webhook","label":"0"}`, header)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "dep-42", md.DeploymentID())
	assert.NotContains(t, md, metadatapkg.KeyAuthorization)
}

func TestControlPlaneForwardsAuthorizationOnlyToAuthority(t *testing.T) {
	authority, last := newTestAuthority(t, http.StatusOK, `{"accessToken":"gho_1"}`)
	svc := newTestService(t, &configpkg.Config{AuthorityURL: authority.URL}, ServiceDependencies{})
	fetcher, err := svc.RegisterCredential("github", nil)
	require.NoError(t, err)

	var (
		handlerMetadata metadatapkg.Metadata
		hookMetadata    metadatapkg.Metadata
		token           string
	)
	require.NoError(t, svc.RegisterMiddleware(DispatchHooksMiddleware(DispatchHooks{
		OnDispatchStart: func(dc DispatchContext) { hookMetadata = dc.Metadata },
	})))
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		handlerMetadata, _ = metadatapkg.FromContext(ctx)
		credential, err := fetcher.Get(ctx)
		token = credential.AccessToken()
		return err
	}, nil))
	srv := newTestControlPlane(t, svc)

	header := http.Header{}
	header.Set(metadatapkg.DefaultDeploymentHeader, "dep-1")
	header.Set("Authorization", "Bearer secret")
	status, body := doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"webhook","label":"1"}`, header)

	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "gho_1", token)
	require.NotNil(t, last.Load())
	assert.Equal(t, "Bearer secret", last.Load().Authorization)
	assert.NotContains(t, handlerMetadata, metadatapkg.KeyAuthorization)
	assert.NotContains(t, hookMetadata, metadatapkg.KeyAuthorization)
}

func TestControlPlaneStatsAndHealth(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	require.NoError(t, svc.RegisterTrigger("webhook", noopHandler, nil))
	require.NoError(t, svc.RegisterTrigger("cron", func(ctx context.Context, data json.RawMessage) error {
		return errors.New("nope")
	}, nil))
	srv := newTestControlPlane(t, svc)

	doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"webhook","label":"0"}`, nil)
	doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"cron","label":"1"}`, nil)

	status, body := doRequest(t, http.MethodGet, srv.URL+RouteStats, "", nil)
	require.Equal(t, http.StatusOK, status)

	var stats []struct {
		Type  string `json:"type"`
		Label string `json:"label"`
		Stats struct {
			Dispatches uint64 `json:"dispatches"`
			Failures   uint64 `json:"failures"`
			Errors     struct {
				Handler   uint64 `json:"handler"`
				LastError string `json:"last_error"`
			} `json:"errors"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, uint64(1), stats[0].Stats.Dispatches)
	assert.Zero(t, stats[0].Stats.Failures)
	assert.Equal(t, uint64(1), stats[1].Stats.Failures)
	assert.Equal(t, uint64(1), stats[1].Stats.Errors.Handler)
	assert.Equal(t, "nope", stats[1].Stats.Errors.LastError)

	status, body = doRequest(t, http.MethodGet, srv.URL+RouteHealth, "", nil)
	require.Equal(t, http.StatusOK, status)
	var health struct {
		State    string `json:"state"`
		Triggers int    `json:"triggers"`
		Process  struct {
			Goroutines uint64 `json:"goroutines"`
		} `json:"process"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "closed", health.State)
	assert.Equal(t, 2, health.Triggers)
	assert.Positive(t, health.Process.Goroutines)
}

func TestControlPlaneMetrics(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{MetricsEnabled: true}, ServiceDependencies{})
	require.NoError(t, svc.RegisterTrigger("webhook", noopHandler, nil))
	srv := newTestControlPlane(t, svc)

	doRequest(t, http.MethodPost, srv.URL+RouteTriggerEvent, `{"type":"webhook","label":"0"}`, nil)
	status, body := doRequest(t, http.MethodGet, srv.URL+RouteMetrics, "", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `glue_trigger_dispatches_total{label="0",outcome="success",type="webhook"} 1`)
	assert.Contains(t, body, "glue_trigger_dispatch_duration_seconds")
}

func TestControlPlaneMetricsDisabled(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	srv := newTestControlPlane(t, svc)

	status, _ := doRequest(t, http.MethodGet, srv.URL+RouteMetrics, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestControlPlaneMethodNotAllowed(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	srv := newTestControlPlane(t, svc)

	status, _ := doRequest(t, http.MethodGet, srv.URL+RouteTriggerEvent, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}
