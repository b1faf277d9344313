// Package callback resolves the persisted callback of a wait instance to
// code. A wait instance stores only a handler name and JSON arguments; the
// handler is looked up in a Registry and built at delivery time, so any
// process with the same registrations can fire any instance's callback.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"waitnotify-go/internal/domain"
)

// Callback is invoked once when every correlation id of a wait instance has
// a response.
type Callback interface {
	// OnComplete is called when no response is an error.
	OnComplete(ctx context.Context, responses domain.Responses) error

	// OnError is called when at least one response is an error.
	OnError(ctx context.Context, responses domain.Responses) error
}

// Factory builds a callback from the arguments persisted with the instance.
type Factory func(args json.RawMessage) (Callback, error)

// Funcs adapts plain functions to Callback. A nil function is a no-op.
type Funcs struct {
	Complete func(ctx context.Context, responses domain.Responses) error
	Error    func(ctx context.Context, responses domain.Responses) error
}

// OnComplete implements Callback.
func (f Funcs) OnComplete(ctx context.Context, responses domain.Responses) error {
	if f.Complete == nil {
		return nil
	}
	return f.Complete(ctx, responses)
}

// OnError implements Callback.
func (f Funcs) OnError(ctx context.Context, responses domain.Responses) error {
	if f.Error == nil {
		return nil
	}
	return f.Error(ctx, responses)
}

// Registry maps callback names to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return errors.New("callback name is required")
	}
	if factory == nil {
		return errors.New("factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("callback %q already registered", name)
	}

	r.factories[name] = factory
	return nil
}

// MustRegister registers a factory, panicking on error.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Validate builds the callback described by spec and discards it, so that
// a spec which could never fire is rejected when the wait is registered.
func (r *Registry) Validate(spec domain.CallbackSpec) error {
	_, err := r.Resolve(spec)
	return err
}

// Resolve builds the callback described by spec.
func (r *Registry) Resolve(spec domain.CallbackSpec) (Callback, error) {
	r.mu.RLock()
	factory, exists := r.factories[spec.Name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCallback, spec.Name)
	}

	cb, err := factory(spec.Args)
	if err != nil {
		return nil, fmt.Errorf("%w for %q: %w", domain.ErrInvalidCallbackArgs, spec.Name, err)
	}
	return cb, nil
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
