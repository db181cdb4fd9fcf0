// Package glue lets a program register handlers for external events while it
// starts up, and serves those registrations to a local supervisor.
//
// Triggers are registered with RegisterTrigger (or the typed
// RegisterJSONTrigger and RegisterProtoTrigger helpers) and credential
// requests with RegisterCredential. Each registration is keyed by its type and
// a label; labels default to a counter shared by triggers and credentials.
// Once Serve starts, the registry is closed and further registrations fail
// with ErrAlreadyInitialized.
//
// # Control plane
//
// The running Service listens on a loopback address and exposes:
//   - GET  /__glue__/getRegistrations
//   - GET  /__glue__/getRegisteredTriggers
//   - POST /__glue__/triggerEvent
//   - GET  /__glue__/stats and /__glue__/health
//   - GET  /metrics when MetricsEnabled is set
//
// A trigger event runs its handler inside a console capture: Log, Info, Warn,
// Error, Printf and Errorf called with the handler's context are returned to
// the caller as ordered log entries together with the handler's error.
//
// # Credentials
//
// A CredentialFetcher obtained from RegisterCredential fetches its credential
// from AuthorityURL for the deployment of the running invocation. It only
// works inside a handler.
//
// # Ingress
//
// IngressTransport adds a Watermill subscriber (channel, kafka, rabbitmq,
// nats, nats-jetstream, http or aws) that feeds trigger events in addition to
// the control plane and publishes each result on IngressReplyTopic.
//
// # Middleware
//
// Dispatches go through a middleware chain: correlation ids, invocation
// logging, optional tracing and metrics, per-trigger statistics and panic
// recovery. DispatchHooksMiddleware adds start, success and error callbacks.
package glue
