package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	errspkg "github.com/drblury/glue/internal/runtime/errors"
	jsoncodec "github.com/drblury/glue/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
)

const maxCredentialErrorBody = 64 << 10

// Credential is the decoded response of the credential authority, kept
// verbatim.
type Credential map[string]any

func (c Credential) stringField(keys ...string) string {
	for _, k := range keys {
		if v, ok := c[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// AccessToken returns the OAuth access token, if the credential carries one.
func (c Credential) AccessToken() string {
	return c.stringField("accessToken", "access_token")
}

// APIKey returns the API key, if the credential carries one.
func (c Credential) APIKey() string {
	return c.stringField("apiKey", "api_key")
}

// ExpiresAt returns when the credential expires. Both epoch milliseconds and
// RFC 3339 strings are understood.
func (c Credential) ExpiresAt() (time.Time, bool) {
	for _, k := range []string{"expiresAt", "expires_at"} {
		switch v := c[k].(type) {
		case float64:
			return time.UnixMilli(int64(v)), true
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts, true
			}
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				return time.UnixMilli(ms), true
			}
		}
	}
	return time.Time{}, false
}

// CredentialFetcher resolves a registered credential request. It can only be
// used while a trigger event is being handled, since the deployment and
// authorization it fetches for come from the triggering request.
type CredentialFetcher struct {
	Type  string
	Label string
}

// Get fetches the credential from the authority for the invocation on ctx.
func (f *CredentialFetcher) Get(ctx context.Context) (Credential, error) {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		return nil, errspkg.ErrNotYetReady
	}
	return scope.credentials.fetch(ctx, f.Type, f.Label, scope.metadata.DeploymentID(), scope.authorization)
}

// credentialClient talks to the credential authority.
type credentialClient struct {
	authority string
	client    *http.Client
	timeout   time.Duration
	logger    loggingpkg.ServiceLogger
}

func (c *credentialClient) url(deploymentID, credentialType, label string) string {
	return strings.TrimRight(c.authority, "/") +
		"/deployments/" + url.PathEscape(deploymentID) +
		"/accountInjections/" + url.PathEscape(credentialType) +
		"/" + url.PathEscape(label)
}

func (c *credentialClient) fetch(ctx context.Context, credentialType, label, deploymentID, authorization string) (Credential, error) {
	if c == nil || c.authority == "" {
		return nil, errspkg.ErrAuthorityNotConfigured
	}
	if deploymentID == "" {
		return nil, fmt.Errorf("%w: the trigger event carried no deployment id", errspkg.ErrCredentialFetch)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.url(deploymentID, credentialType, label)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrCredentialFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	client := c.client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("Credential fetch failed", err, loggingpkg.LogFields{
			"credential_type":  credentialType,
			"credential_label": label,
		})
		return nil, fmt.Errorf("%w: %w", errspkg.ErrCredentialFetch, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Credential fetched", loggingpkg.LogFields{
		"credential_type":  credentialType,
		"credential_label": label,
		"status":           resp.StatusCode,
		"duration_ms":      time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxCredentialErrorBody))
		return nil, &errspkg.CredentialFetchError{
			Type:   credentialType,
			Label:  label,
			Status: resp.StatusCode,
			Body:   string(body),
		}
	}

	var credential Credential
	if err := jsoncodec.Decode(resp.Body, &credential); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", errspkg.ErrCredentialFetch, err)
	}
	return credential, nil
}
