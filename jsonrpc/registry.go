package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
)

// Handler answers one inbound method. The returned value is encoded as the
// result; a returned error becomes the error object of the response.
type Handler interface {
	Handle(ctx context.Context, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, params json.RawMessage) (any, error) {
	return f(ctx, params)
}

// Registry maps wire method names to handlers. It is filled at construction
// and frozen when an engine starts using it, so lookups need no locking.
type Registry struct {
	handlers map[string]Handler
	frozen   atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its wire name. Registering an empty or
// duplicate name, or registering after Freeze, panics.
func (r *Registry) Register(name string, h Handler) {
	if r.frozen.Load() {
		panic(fmt.Sprintf("jsonrpc: register %q on a frozen registry", name))
	}
	if name == "" || h == nil {
		panic("jsonrpc: register requires a name and a handler")
	}
	if _, dup := r.handlers[name]; dup {
		panic(fmt.Sprintf("jsonrpc: duplicate registration of %q", name))
	}
	r.handlers[name] = h
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, params json.RawMessage) (any, error)) {
	r.Register(name, HandlerFunc(fn))
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Methods lists the registered wire names in sorted order.
func (r *Registry) Methods() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}
