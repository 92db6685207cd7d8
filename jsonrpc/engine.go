package jsonrpc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/m4xw311/tadpole/errors"
)

// State is the lifecycle of an engine's connection.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTrace logs every line read and written at debug level.
func WithTrace(enabled bool) Option {
	return func(e *Engine) { e.trace = enabled }
}

type engineKey struct{}

// FromContext returns the engine dispatching the current inbound call.
func FromContext(ctx context.Context) (*Engine, bool) {
	e, ok := ctx.Value(engineKey{}).(*Engine)
	return e, ok
}

// inbound is an item of the notification queue: a notification, or a
// barrier closed when the worker reaches it.
type inbound struct {
	msg     Message
	barrier chan struct{}
}

// Engine runs JSON-RPC 2.0 in both directions over one pair of streams.
// Outbound calls are correlated through a PendingTable; inbound requests and
// notifications are answered from a Registry.
type Engine struct {
	reader   *bufio.Reader
	writer   io.Writer
	writeMu  sync.Mutex
	registry *Registry
	pending  *PendingTable
	logger   *slog.Logger
	trace    bool

	state    atomic.Int32
	started  atomic.Bool
	inflight sync.WaitGroup
	notes    *queue[inbound]
	done     chan struct{}
}

// NewEngine reads messages from r and writes to w. The registry is frozen.
func NewEngine(r io.Reader, w io.Writer, registry *Registry, opts ...Option) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	registry.Freeze()

	e := &Engine{
		reader:   bufio.NewReader(r),
		writer:   w,
		registry: registry,
		logger:   slog.Default(),
		notes:    newQueue[inbound](),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "jsonrpc")
	e.pending = NewPendingTable(e.logger)
	return e
}

// State returns the current connection state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Done is closed once the engine reaches StateClosed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Pending returns the number of outbound calls awaiting a response.
func (e *Engine) Pending() int { return e.pending.Len() }

// Run reads the stream until end-of-file. Responses are resolved inline,
// requests are served on their own goroutines and notifications are handled
// in stream order by a single worker, so the loop only ever blocks on input.
// When the stream ends every pending call fails with ErrConnectionClosed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("jsonrpc: engine already running")
	}
	ctx, cancel := context.WithCancel(context.WithValue(ctx, engineKey{}, e))
	defer e.finish(cancel)

	e.inflight.Add(1)
	go e.drainNotifications(ctx)

	for {
		line, err := e.reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			e.handleLine(ctx, line)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			e.logger.Debug("stream reached end of file")
			return nil
		}
		return errors.Wrapf(err, "read json-rpc stream")
	}
}

// Call sends a request and returns its completion handle. The handle is
// resolved by the read loop, or with ErrConnectionClosed when the stream ends.
func (e *Engine) Call(ctx context.Context, method string, params any) (*Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.State() != StateOpen {
		return nil, fmt.Errorf("call %s: %w", method, ErrConnectionClosed)
	}
	id, call := e.pending.Register(method)
	select {
	case <-call.Done():
		return nil, fmt.Errorf("call %s: %w", method, call.err)
	default:
	}

	msg, err := NewRequest(id, method, params)
	if err != nil {
		e.pending.Cancel(id)
		return nil, err
	}
	if err := e.send(msg); err != nil {
		e.pending.Resolve(id, nil, err)
		return nil, err
	}
	return call, nil
}

// Notify sends a one-way message. No id is assigned and nothing waits for it.
func (e *Engine) Notify(ctx context.Context, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.State() != StateOpen {
		return fmt.Errorf("notify %s: %w", method, ErrConnectionClosed)
	}
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return e.send(msg)
}

// Sync waits until every notification read so far has been handled. A
// caller that got a response uses it to see the notifications the peer sent
// before that response. It must not be called from a notification handler.
func (e *Engine) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	barrier := make(chan struct{})
	if !e.notes.push(inbound{barrier: barrier}) {
		barrier = nil
	}
	select {
	case <-barrier:
		return nil
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting outbound calls and fails the pending ones. The read
// loop exits once the owner closes the underlying reader.
func (e *Engine) Close() error {
	e.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	if n := e.pending.Close(ErrConnectionClosed); n > 0 {
		e.logger.Debug("flushed pending calls", "count", n)
	}
	return nil
}

func (e *Engine) finish(cancel context.CancelFunc) {
	e.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	if n := e.pending.Close(ErrConnectionClosed); n > 0 {
		e.logger.Debug("flushed pending calls", "count", n)
	}
	e.notes.close()
	cancel()
	e.inflight.Wait()
	e.state.Store(int32(StateClosed))
	close(e.done)
}

func (e *Engine) handleLine(ctx context.Context, line []byte) {
	if e.trace {
		e.logger.Debug("recv", "line", string(bytes.TrimSpace(line)))
	}
	msgs, err := DecodeLine(line)
	if err != nil {
		if len(msgs) == 0 {
			e.logger.Warn("dropping malformed line", "error", err, "line", truncate(line, 200))
			return
		}
		e.logger.Warn("dropping malformed batch elements", "error", err, "kept", len(msgs))
	}
	for _, msg := range msgs {
		e.route(ctx, msg)
	}
}

func (e *Engine) route(ctx context.Context, msg Message) {
	switch msg.Kind() {
	case KindResponse:
		e.resolve(msg)
	case KindRequest:
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			e.serve(ctx, msg)
		}()
	case KindNotification:
		e.notes.push(inbound{msg: msg})
	default:
		e.logger.Warn("dropping message that is neither request nor response",
			"error", ErrMalformedMessage, "id", msg.ID.String())
	}
}

func (e *Engine) resolve(msg Message) {
	id, ok := msg.ID.Int64()
	if !ok {
		e.logger.Debug("dropping response", "error", ErrUnresolvedResponse, "id", msg.ID.String())
		return
	}
	var err error
	if msg.Error != nil {
		err = msg.Error
	}
	if !e.pending.Resolve(id, msg.Result, err) {
		e.logger.Debug("dropping response", "error", ErrUnresolvedResponse, "id", id)
	}
}

func (e *Engine) drainNotifications(ctx context.Context) {
	defer e.inflight.Done()
	for {
		item, ok := e.notes.pop()
		if !ok {
			return
		}
		if item.barrier != nil {
			close(item.barrier)
			continue
		}
		e.serve(ctx, item.msg)
	}
}

// serve runs the handler for an inbound request or notification. Only
// requests get a response.
func (e *Engine) serve(ctx context.Context, msg Message) {
	result, err := e.invoke(ctx, msg)
	if msg.ID == nil {
		if err != nil && !errors.Is(err, ErrMethodNotFound) {
			e.logger.Warn("notification handler failed", "method", msg.Method, "error", err)
		}
		return
	}

	var resp Message
	if err != nil {
		e.logger.Debug("answering with error", "method", msg.Method, "id", msg.ID.String(), "error", err)
		resp = NewErrorResponse(msg.ID, wireError(err))
	} else if resp, err = NewResponse(msg.ID, result); err != nil {
		resp = NewErrorResponse(msg.ID, NewError(CodeInternalError, "Internal error", err.Error()))
	}
	if err := e.send(resp); err != nil {
		e.logger.Warn("failed to write response", "method", msg.Method, "id", msg.ID.String(), "error", err)
	}
}

func (e *Engine) invoke(ctx context.Context, msg Message) (result any, err error) {
	handler, ok := e.registry.Lookup(msg.Method)
	if !ok {
		if msg.ID == nil {
			e.logger.Debug("ignoring notification for unknown method", "method", msg.Method)
		}
		return nil, NewError(CodeMethodNotFound, "Method not found", msg.Method)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked", "method", msg.Method, "panic", r)
			err = NewError(CodeInternalError, "Internal error", fmt.Sprint(r))
		}
	}()
	return handler.Handle(ctx, msg.Params)
}

func (e *Engine) send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return errors.Wrapf(err, "encode json-rpc message")
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.trace {
		e.logger.Debug("send", "line", string(bytes.TrimSpace(data)))
	}
	if _, err := e.writer.Write(data); err != nil {
		return errors.Wrapf(err, "write json-rpc message")
	}
	if f, ok := e.writer.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrapf(err, "flush json-rpc message")
		}
	}
	return nil
}

func truncate(line []byte, n int) string {
	line = bytes.TrimSpace(line)
	if len(line) <= n {
		return string(line)
	}
	return string(line[:n]) + "..."
}
