package runtime

import (
	errspkg "github.com/drblury/glue/internal/runtime/errors"
	handlerpkg "github.com/drblury/glue/internal/runtime/handlers"
)

// TriggerRegistrar accepts trigger registrations. Both *Service and *Registry
// implement it.
type TriggerRegistrar interface {
	RegisterTrigger(triggerType string, handler Handler, config map[string]any, opts ...RegisterOption) error
}

func registrarMissing(r TriggerRegistrar) bool {
	switch v := r.(type) {
	case nil:
		return true
	case *Service:
		return v == nil
	case *Registry:
		return v == nil
	}
	return false
}

// RegisterJSONTrigger registers a trigger whose event data is decoded into T
// before handler runs.
func RegisterJSONTrigger[T any](r TriggerRegistrar, triggerType string, handler handlerpkg.JSONTriggerHandler[T], config map[string]any, opts ...RegisterOption) error {
	if registrarMissing(r) {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONHandler(handler)
	if err != nil {
		return err
	}
	return r.RegisterTrigger(triggerType, wrapped, config, opts...)
}
