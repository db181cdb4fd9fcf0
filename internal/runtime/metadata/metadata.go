package metadata

import (
	"context"
	"net/http"
)

// Keys carried alongside every trigger invocation.
const (
	KeyDeploymentID  = "deployment_id"
	KeyAuthorization = "authorization"
	KeyCorrelationID = "correlation_id"
	KeyInvocationID  = "invocation_id"
	KeyTriggerType   = "trigger_type"
	KeyTriggerLabel  = "trigger_label"
)

// DefaultDeploymentHeader is the request header naming the deployment a
// trigger event was sent for.
const DefaultDeploymentHeader = "X-Glue-Deployment-Id"

// Metadata represents the headers carried alongside a trigger invocation.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// DeploymentID returns the deployment the invocation belongs to, if any.
func (m Metadata) DeploymentID() string { return m[KeyDeploymentID] }

// Authorization returns the raw Authorization header value of the invocation, if any.
func (m Metadata) Authorization() string { return m[KeyAuthorization] }

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// FromHeader extracts the invocation metadata from an inbound control-plane
// request. Empty header values are skipped.
func FromHeader(h http.Header, deploymentHeader string) Metadata {
	if deploymentHeader == "" {
		deploymentHeader = DefaultDeploymentHeader
	}
	md := Metadata{}
	if v := h.Get(deploymentHeader); v != "" {
		md[KeyDeploymentID] = v
	}
	if v := h.Get("Authorization"); v != "" {
		md[KeyAuthorization] = v
	}
	return md
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying md.
func NewContext(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, contextKey{}, md)
}

// FromContext returns the metadata stored on ctx by NewContext.
func FromContext(ctx context.Context) (Metadata, bool) {
	if ctx == nil {
		return nil, false
	}
	md, ok := ctx.Value(contextKey{}).(Metadata)
	return md, ok
}
