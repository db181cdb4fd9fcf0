package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/glue/internal/runtime/errors"
)

var protoUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}

// ProtoEvent provides strongly typed access to a trigger payload declared as a
// protobuf message.
type ProtoEvent[T proto.Message] struct {
	EventContextBase
	Payload T
}

// ProtoTriggerHandler processes a trigger event whose data is the protojson
// encoding of T.
type ProtoTriggerHandler[T proto.Message] func(ctx context.Context, event ProtoEvent[T]) error

// BuildProtoHandler converts the typed handler into a raw trigger handler.
// Unknown fields in the event data are ignored.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoTriggerHandler[T]) (Func, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if isNilProto(prototype) {
		return nil, errspkg.ErrPayloadTypeRequired
	}

	return func(ctx context.Context, data json.RawMessage) error {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return err
		}

		if !noPayload(data) {
			if err := protoUnmarshal.Unmarshal(data, typed); err != nil {
				return fmt.Errorf("%w: %T: %v", errspkg.ErrInvalidPayload, prototype, err)
			}
		}

		return handler(ctx, ProtoEvent[T]{
			EventContextBase: newEventContextBase(ctx),
			Payload:          typed,
		})
	}, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}
	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a freshly allocated T when
// candidate is a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrPayloadTypeRequired
	}

	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
