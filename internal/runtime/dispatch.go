package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/drblury/glue/internal/runtime/console"
	errspkg "github.com/drblury/glue/internal/runtime/errors"
	idspkg "github.com/drblury/glue/internal/runtime/ids"
	jsoncodec "github.com/drblury/glue/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

// TriggerEvent is the body of a trigger request, whether it arrives on the
// control plane or through the ingress.
type TriggerEvent struct {
	Type  string          `json:"type"`
	Label string          `json:"label"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type rawTriggerEvent struct {
	Type  *string         `json:"type"`
	Label json.RawMessage `json:"label"`
	Data  json.RawMessage `json:"data"`
}

// DecodeTriggerEvent parses and validates a trigger event body. Labels may be
// sent as strings or as integers, since auto-assigned labels look numeric.
func DecodeTriggerEvent(body []byte) (TriggerEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return TriggerEvent{}, &errspkg.TriggerEventValidationError{Details: []string{"body: a JSON object is required"}}
	}

	var raw rawTriggerEvent
	if err := jsoncodec.Unmarshal(body, &raw); err != nil {
		return TriggerEvent{}, &errspkg.TriggerEventValidationError{Details: []string{"body: " + err.Error()}}
	}

	var details []string
	event := TriggerEvent{Data: raw.Data}

	if raw.Type == nil || *raw.Type == "" {
		details = append(details, "type: a non-empty string is required")
	} else {
		event.Type = *raw.Type
	}

	label, ok := decodeLabel(raw.Label)
	if !ok {
		details = append(details, "label: a non-empty string or integer is required")
	}
	event.Label = label

	if len(details) > 0 {
		return TriggerEvent{}, &errspkg.TriggerEventValidationError{Details: details}
	}
	return event, nil
}

func decodeLabel(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := jsoncodec.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	}
	if n, err := strconv.ParseUint(string(raw), 10, 64); err == nil {
		return strconv.FormatUint(n, 10), true
	}
	return "", false
}

// Invocation is a single dispatch of a trigger event.
type Invocation struct {
	ID        string
	Type      string
	Label     string
	Data      json.RawMessage
	Metadata  metadatapkg.Metadata
	StartedAt time.Time

	trigger *Trigger
}

// DispatchFunc runs an invocation.
type DispatchFunc func(ctx context.Context, inv *Invocation) error

// DispatchMiddleware wraps a DispatchFunc.
type DispatchMiddleware func(next DispatchFunc) DispatchFunc

func callHandler(ctx context.Context, inv *Invocation) error {
	return inv.trigger.Handler(ctx, inv.Data)
}

func chainMiddlewares(middlewares []DispatchMiddleware, final DispatchFunc) DispatchFunc {
	h := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Invoke dispatches event to its handler with console capture. An unknown
// trigger yields an *UnknownTriggerError and no result. Otherwise the handler
// ran and the result carries its logs and, when it failed, its error.
// The first call closes the registry. The authorization in md is only used
// for credential fetches and is removed from the handler's metadata.
func (s *Service) Invoke(ctx context.Context, event TriggerEvent, md metadatapkg.Metadata) (console.Result, error) {
	s.beginServing()

	trigger, ok := s.registry.Lookup(event.Type, event.Label)
	if !ok {
		return console.Result{}, &errspkg.UnknownTriggerError{Type: event.Type, Label: event.Label}
	}

	inv := &Invocation{
		ID:        idspkg.NewInvocationID(),
		Type:      event.Type,
		Label:     event.Label,
		Data:      event.Data,
		StartedAt: time.Now(),
		trigger:   trigger,
	}
	inv.Metadata = md.Clone()
	authorization := inv.Metadata.Authorization()
	delete(inv.Metadata, metadatapkg.KeyAuthorization)
	inv.Metadata[metadatapkg.KeyInvocationID] = inv.ID
	inv.Metadata[metadatapkg.KeyTriggerType] = inv.Type
	inv.Metadata[metadatapkg.KeyTriggerLabel] = inv.Label

	dispatch := s.dispatchFunc()
	scope := &invocationScope{
		metadata:      inv.Metadata,
		authorization: authorization,
		credentials:   s.credentials,
	}

	return console.Run(withScope(ctx, scope), s.sink, func(ctx context.Context) error {
		return dispatch(ctx, inv)
	}), nil
}
