package runtime

import (
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/glue/internal/runtime/errors"
	handlerpkg "github.com/drblury/glue/internal/runtime/handlers"
)

// RegisterProtoTrigger registers a trigger whose event data is the protojson
// encoding of T.
func RegisterProtoTrigger[T proto.Message](r TriggerRegistrar, triggerType string, handler handlerpkg.ProtoTriggerHandler[T], config map[string]any, opts ...RegisterOption) error {
	if registrarMissing(r) {
		return errspkg.ErrServiceRequired
	}

	var zero T
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return err
	}

	wrapped, err := handlerpkg.BuildProtoHandler(prototype, handler)
	if err != nil {
		return err
	}
	return r.RegisterTrigger(triggerType, wrapped, config, opts...)
}
