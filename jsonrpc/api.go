package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Caller issues outbound requests. *Engine implements it.
type Caller interface {
	Call(ctx context.Context, method string, params any) (*Call, error)
}

// Notifier issues outbound notifications. *Engine implements it.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// Method describes one request/response method: its wire name and, through
// the type parameters, the shape of its params and result. The same value is
// used to call the method and to expose an implementation of it.
//
// P is usually a struct (named params); a slice or array type gives
// positional params.
type Method[P, R any] struct {
	Name   string
	Prefix string
}

// WireName is the method name as written on the wire, e.g. "session/new".
func (m Method[P, R]) WireName() string { return m.Prefix + m.Name }

// Call sends the request and returns a typed handle for its result.
func (m Method[P, R]) Call(ctx context.Context, c Caller, params P) (*Pending[R], error) {
	call, err := c.Call(ctx, m.WireName(), params)
	if err != nil {
		return nil, err
	}
	return &Pending[R]{call: call}, nil
}

// Invoke sends the request and waits for its result.
func (m Method[P, R]) Invoke(ctx context.Context, c Caller, params P) (R, error) {
	pending, err := m.Call(ctx, c, params)
	if err != nil {
		var zero R
		return zero, err
	}
	return pending.Wait(ctx)
}

// Pending is the typed completion handle returned by Method.Call.
type Pending[R any] struct {
	call *Call
}

// ID returns the correlation id of the underlying call.
func (p *Pending[R]) ID() int64 { return p.call.ID() }

// Done is closed once the call is resolved.
func (p *Pending[R]) Done() <-chan struct{} { return p.call.Done() }

// Wait blocks for the result and decodes it into R.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	var result R
	raw, err := p.call.Wait(ctx)
	if err != nil {
		return result, err
	}
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("decode %s result: %w", p.call.Method(), err)
	}
	return result, nil
}

// Notification describes a one-way method.
type Notification[P any] struct {
	Name   string
	Prefix string
}

// WireName is the method name as written on the wire.
func (n Notification[P]) WireName() string { return n.Prefix + n.Name }

// Notify sends the notification.
func (n Notification[P]) Notify(ctx context.Context, c Notifier, params P) error {
	return c.Notify(ctx, n.WireName(), params)
}

// Expose registers fn as the implementation of m. Incoming params are
// decoded into P before fn runs; params that do not fit P are answered with
// an invalid-params error.
func Expose[P, R any](reg *Registry, m Method[P, R], fn func(ctx context.Context, params P) (R, error)) {
	reg.Register(m.WireName(), HandlerFunc(func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		return fn(ctx, params)
	}))
}

// ExposeNotification registers fn as the implementation of a one-way method.
func ExposeNotification[P any](reg *Registry, n Notification[P], fn func(ctx context.Context, params P) error) {
	reg.Register(n.WireName(), HandlerFunc(func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		return nil, fn(ctx, params)
	}))
}

func decodeParams(raw json.RawMessage, into any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
