package runtime

import (
	"context"

	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

// invocationScope is what a running handler can reach through its context.
// Every invocation gets its own, so concurrent requests never observe each
// other's deployment or authorization.
type invocationScope struct {
	metadata metadatapkg.Metadata
	// authorization is never part of metadata, so handlers and hooks cannot
	// read the caller's token.
	authorization string
	credentials   *credentialClient
}

type scopeKey struct{}

func withScope(ctx context.Context, scope *invocationScope) context.Context {
	ctx = metadatapkg.NewContext(ctx, scope.metadata)
	return context.WithValue(ctx, scopeKey{}, scope)
}

func scopeFromContext(ctx context.Context) (*invocationScope, bool) {
	if ctx == nil {
		return nil, false
	}
	scope, ok := ctx.Value(scopeKey{}).(*invocationScope)
	return scope, ok && scope != nil
}

// InInvocation reports whether ctx belongs to a dispatched trigger invocation.
func InInvocation(ctx context.Context) bool {
	_, ok := scopeFromContext(ctx)
	return ok
}
