package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	errspkg "github.com/drblury/glue/internal/runtime/errors"
	jsoncodec "github.com/drblury/glue/internal/runtime/jsoncodec"
)

// JSONEvent exposes the decoded payload and the invocation metadata to JSON
// trigger handlers.
type JSONEvent[T any] struct {
	EventContextBase
	Payload T
}

// JSONTriggerHandler processes a trigger event whose data decodes into T.
type JSONTriggerHandler[T any] func(ctx context.Context, event JSONEvent[T]) error

// BuildJSONHandler converts a typed JSON handler into a raw trigger handler.
// Decoding failures wrap ErrInvalidPayload and are returned before the typed
// handler runs.
func BuildJSONHandler[T any](handler JSONTriggerHandler[T]) (Func, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	return func(ctx context.Context, data json.RawMessage) error {
		var payload T
		if !noPayload(data) {
			if err := jsoncodec.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("%w: %T: %v", errspkg.ErrInvalidPayload, payload, err)
			}
		}

		return handler(ctx, JSONEvent[T]{
			EventContextBase: newEventContextBase(ctx),
			Payload:          payload,
		})
	}, nil
}
