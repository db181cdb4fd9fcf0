// Package handlers adapts typed trigger handlers to the raw handler signature
// the registry stores.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"

	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

// Func is the raw trigger handler signature. data is the verbatim JSON sent
// with the trigger event and may be empty.
type Func func(ctx context.Context, data json.RawMessage) error

// EventContextBase provides what every typed trigger handler gets to see
// besides its payload.
type EventContextBase struct {
	Metadata metadatapkg.Metadata
}

func newEventContextBase(ctx context.Context) EventContextBase {
	md, _ := metadatapkg.FromContext(ctx)
	if md == nil {
		md = metadatapkg.Metadata{}
	}
	return EventContextBase{Metadata: md}
}

// CloneMetadata returns a copy of the invocation metadata.
func (b EventContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b EventContextBase) Get(key string) string {
	return b.Metadata[key]
}

func (b EventContextBase) TriggerType() string  { return b.Metadata[metadatapkg.KeyTriggerType] }
func (b EventContextBase) TriggerLabel() string { return b.Metadata[metadatapkg.KeyTriggerLabel] }
func (b EventContextBase) InvocationID() string { return b.Metadata[metadatapkg.KeyInvocationID] }
func (b EventContextBase) DeploymentID() string { return b.Metadata.DeploymentID() }

// CorrelationID returns the correlation ID of ingress-delivered events, if present.
func (b EventContextBase) CorrelationID() string {
	return b.Metadata[metadatapkg.KeyCorrelationID]
}

// noPayload reports whether data carries no value. Triggers fired without
// data decode into the zero payload.
func noPayload(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
