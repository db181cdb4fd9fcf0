/*
Package runtime provides the in-process event registration runtime behind glue.

# Architecture Overview

User code registers handlers for external events (webhooks, schedules,
third-party callbacks) while the program sets itself up. The runtime collects
those registrations, serves them on a loopback control plane, and dispatches
trigger events to the matching handler while capturing the handler's console
output.

# Package Structure

## Registry (registry.go, lifecycle.go)

The Registry maps (type, label) pairs to handlers and credential requests.
Labels are either supplied with WithLabel or taken from a counter shared by
triggers and credentials, starting at "0". The registry moves from Open to
ScheduledClose on the first registration and to Closed when the service
starts; registrations in Closed fail with ErrAlreadyInitialized.

## Dispatch (dispatch.go, middleware.go, hooks.go)

Service.Invoke runs a trigger inside a console capture. The dispatch chain
is composable:
  - CorrelationID: every invocation carries a correlation identifier
  - LogInvocations: debug logging of invocations and failures
  - Tracer: OpenTelemetry spans
  - Metrics: Prometheus counters and histograms
  - Stats: per-trigger latency, throughput and error breakdown
  - Recoverer: handler panics become errors

## Control Plane (server.go)

	GET  /__glue__/getRegistrations
	GET  /__glue__/getRegisteredTriggers
	POST /__glue__/triggerEvent
	GET  /__glue__/stats
	GET  /__glue__/health
	GET  /metrics

## Credentials (credentials.go, scope.go)

A CredentialFetcher fetches a secret from the credential authority using the
deployment id and Authorization header of the trigger request being handled.
That request data lives on the invocation context, never in process state.

## Ingress (ingress.go)

Optionally, trigger events are consumed from a message transport (see the
transport package) and the outcome is published to a reply topic.

# Sub-packages

  - config/: configuration, env and file loading, validation
  - console/: per-invocation capture of console output
  - errors/: sentinel errors and error types
  - handlers/: typed JSON and protobuf trigger handlers
  - ids/: ULID invocation ids
  - inspect/: rendering of logged values
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metadata/: invocation metadata

# Usage Example

	svc, err := runtime.NewService(&config.Config{DevPort: 8787}, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}

	err = svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		console.Log(ctx, "webhook callback")
		return nil
	}, nil)

	return svc.Start(ctx)
*/
package runtime
