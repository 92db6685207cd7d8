package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Call is the completion handle of one outgoing request. It is resolved
// exactly once, with either a result or an error.
type Call struct {
	id     int64
	method string
	table  *PendingTable

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

// ID returns the correlation id assigned to the call.
func (c *Call) ID() int64 { return c.id }

// Method returns the wire name of the called method.
func (c *Call) Method() string { return c.method }

// Done is closed once the call is resolved.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the call is resolved or ctx ends. When ctx ends first the
// pending entry is cancelled and a late response is dropped.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		if c.table != nil {
			c.table.cancel(c.id, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		}
		<-c.done
	}
	return c.result, c.err
}

func (c *Call) resolve(result json.RawMessage, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
		resolved = true
	})
	return resolved
}

// PendingTable maps correlation ids to calls still awaiting a response.
// Registration and resolution share one lock.
type PendingTable struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*Call
	closed  error
	logger  *slog.Logger
}

func NewPendingTable(logger *slog.Logger) *PendingTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingTable{
		pending: make(map[int64]*Call),
		logger:  logger,
	}
}

// Register allocates the next id and stores an unresolved call for it. Once
// the table is closed the returned call is already failed with the close
// error.
func (t *PendingTable) Register(method string) (int64, *Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	call := &Call{id: id, method: method, table: t, done: make(chan struct{})}
	if t.closed != nil {
		call.resolve(nil, t.closed)
		return id, call
	}
	t.pending[id] = call
	return id, call
}

// Resolve removes the entry for id and fulfils it. An unknown id is a no-op
// and reports false.
func (t *PendingTable) Resolve(id int64, result json.RawMessage, err error) bool {
	call := t.take(id)
	if call == nil {
		return false
	}
	if !call.resolve(result, err) {
		t.logger.Debug("call resolved twice", "id", id, "method", call.method)
		return false
	}
	return true
}

// Cancel removes the entry for id and fails it with ErrCancelled.
func (t *PendingTable) Cancel(id int64) bool {
	return t.cancel(id, ErrCancelled)
}

func (t *PendingTable) cancel(id int64, err error) bool {
	call := t.take(id)
	if call == nil {
		return false
	}
	return call.resolve(nil, err)
}

// Close fails every pending call with err and makes later registrations fail
// immediately. It returns how many calls were flushed.
func (t *PendingTable) Close(err error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	calls := make([]*Call, 0, len(t.pending))
	for id, call := range t.pending {
		calls = append(calls, call)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, call := range calls {
		call.resolve(nil, err)
	}
	return len(calls)
}

// Len returns the number of outstanding calls.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *PendingTable) take(id int64) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return call
}
