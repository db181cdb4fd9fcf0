package runtime

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	errspkg "github.com/drblury/glue/internal/runtime/errors"
	handlerpkg "github.com/drblury/glue/internal/runtime/handlers"
)

// Handler processes the data of a single trigger event. A returned error is
// reported to the caller of the trigger; it is never retried.
type Handler = handlerpkg.Func

// Registration describes a trigger or credential request as exposed on the
// control plane.
type Registration struct {
	Type        string         `json:"type"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config"`
}

// Trigger is a registered trigger and its handler.
type Trigger struct {
	Registration
	Handler Handler
}

// Registrations is the full registration snapshot, in registration order.
type Registrations struct {
	Triggers           []Registration `json:"triggers"`
	CredentialRequests []Registration `json:"credentialRequests"`
}

type registrationKey struct {
	typ   string
	label string
}

// RegisterOption customises a single registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	label       string
	hasLabel    bool
	description string
}

// WithLabel registers under label instead of the next auto-assigned one.
func WithLabel(label string) RegisterOption {
	return func(o *registerOptions) {
		o.label = label
		o.hasLabel = true
	}
}

// WithDescription attaches a human readable description to the registration.
func WithDescription(description string) RegisterOption {
	return func(o *registerOptions) {
		o.description = description
	}
}

// Registry maps (type, label) pairs to trigger handlers and credential
// requests. Registrations are only accepted until Close is called; afterwards
// the registry is read only.
type Registry struct {
	mu sync.RWMutex

	lifecycle lifecycle
	counter   uint64

	triggers     map[registrationKey]*Trigger
	triggerOrder []*Trigger

	credentials     map[registrationKey]*CredentialFetcher
	credentialOrder []Registration
}

// NewRegistry returns an empty registry in the Open state.
func NewRegistry() *Registry {
	return &Registry{
		triggers:    make(map[registrationKey]*Trigger),
		credentials: make(map[registrationKey]*CredentialFetcher),
	}
}

// resolveLabel returns the requested label or the next counter value. The
// counter is shared between triggers and credentials and only advances for
// auto-assigned labels. Callers hold r.mu.
func (r *Registry) resolveLabel(opts registerOptions) string {
	if opts.hasLabel {
		return opts.label
	}
	label := strconv.FormatUint(r.counter, 10)
	r.counter++
	return label
}

func applyRegisterOptions(opts []RegisterOption) registerOptions {
	var resolved registerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	return resolved
}

// RegisterTrigger registers handler for events of triggerType. config is
// stored verbatim and served on the control plane.
func (r *Registry) RegisterTrigger(triggerType string, handler Handler, config map[string]any, opts ...RegisterOption) error {
	_, err := r.registerTrigger(triggerType, handler, config, opts...)
	return err
}

func (r *Registry) registerTrigger(triggerType string, handler Handler, config map[string]any, opts ...RegisterOption) (*Trigger, error) {
	if triggerType == "" {
		return nil, errspkg.ErrTriggerTypeRequired
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	resolved := applyRegisterOptions(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lifecycle.current() == StateClosed {
		return nil, errspkg.ErrAlreadyInitialized
	}

	label := r.resolveLabel(resolved)
	key := registrationKey{typ: triggerType, label: label}
	if _, exists := r.triggers[key]; exists {
		return nil, &errspkg.DuplicateLabelError{Kind: "trigger", Type: triggerType, Label: label}
	}

	trigger := &Trigger{
		Registration: Registration{
			Type:        triggerType,
			Label:       label,
			Description: resolved.description,
			Config:      normalizeConfig(config),
		},
		Handler: handler,
	}
	r.triggers[key] = trigger
	r.triggerOrder = append(r.triggerOrder, trigger)
	r.lifecycle.schedule()

	return trigger, nil
}

// RegisterCredential registers a credential request. The returned fetcher
// resolves the credential while a trigger event is being handled.
func (r *Registry) RegisterCredential(credentialType string, config map[string]any, opts ...RegisterOption) (*CredentialFetcher, error) {
	if credentialType == "" {
		return nil, errspkg.ErrCredentialTypeRequired
	}
	resolved := applyRegisterOptions(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lifecycle.current() == StateClosed {
		return nil, errspkg.ErrAlreadyInitialized
	}

	label := r.resolveLabel(resolved)
	key := registrationKey{typ: credentialType, label: label}
	if _, exists := r.credentials[key]; exists {
		return nil, &errspkg.DuplicateLabelError{Kind: "credential", Type: credentialType, Label: label}
	}

	reg := Registration{
		Type:        credentialType,
		Label:       label,
		Description: resolved.description,
		Config:      normalizeConfig(config),
	}
	fetcher := &CredentialFetcher{Type: credentialType, Label: label}
	r.credentials[key] = fetcher
	r.credentialOrder = append(r.credentialOrder, reg)
	r.lifecycle.schedule()

	return fetcher, nil
}

// normalizeConfig makes sure config serializes as an object.
func normalizeConfig(config map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	return config
}

// Close stops accepting registrations. It reports whether this call closed
// the registry.
func (r *Registry) Close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lifecycle.close()
}

// State returns the current lifecycle state.
func (r *Registry) State() State {
	return r.lifecycle.current()
}

// Closed reports whether registrations are no longer accepted.
func (r *Registry) Closed() bool {
	return r.State() == StateClosed
}

// Registrations returns a snapshot of every trigger and credential
// registration in registration order.
func (r *Registry) Registrations() Registrations {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := Registrations{
		Triggers:           make([]Registration, 0, len(r.triggerOrder)),
		CredentialRequests: make([]Registration, 0, len(r.credentialOrder)),
	}
	for _, t := range r.triggerOrder {
		regs.Triggers = append(regs.Triggers, t.Registration)
	}
	regs.CredentialRequests = append(regs.CredentialRequests, r.credentialOrder...)
	return regs
}

// Triggers returns the trigger registrations in registration order.
func (r *Registry) Triggers() []Registration {
	return r.Registrations().Triggers
}

// Lookup finds the trigger registered for (triggerType, label).
func (r *Registry) Lookup(triggerType, label string) (*Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[registrationKey{typ: triggerType, label: label}]
	return t, ok
}

// Credential finds the fetcher registered for (credentialType, label).
func (r *Registry) Credential(credentialType, label string) (*CredentialFetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.credentials[registrationKey{typ: credentialType, label: label}]
	return f, ok
}

// Dispatch runs the handler registered for (triggerType, label) with data and
// returns its error unchanged. It does not capture console output; use
// Service.Invoke for that.
func (r *Registry) Dispatch(ctx context.Context, triggerType, label string, data json.RawMessage) error {
	trigger, ok := r.Lookup(triggerType, label)
	if !ok {
		return &errspkg.UnknownTriggerError{Type: triggerType, Label: label}
	}
	return trigger.Handler(ctx, data)
}
