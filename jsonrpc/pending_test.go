package jsonrpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTableAssignsIncreasingIDs(t *testing.T) {
	table := NewPendingTable(nil)
	for want := int64(0); want < 5; want++ {
		id, call := table.Register("m")
		assert.Equal(t, want, id)
		assert.Equal(t, want, call.ID())
	}
	assert.Equal(t, 5, table.Len())
}

func TestPendingTableConcurrentRegistrationIsUnique(t *testing.T) {
	table := NewPendingTable(nil)
	const n = 200
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := table.Register("m")
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestPendingTableResolvesOnce(t *testing.T) {
	table := NewPendingTable(nil)
	id, call := table.Register("initialize")

	assert.True(t, table.Resolve(id, json.RawMessage(`{"ok":true}`), nil))
	assert.False(t, table.Resolve(id, json.RawMessage(`{"ok":false}`), nil))
	assert.Equal(t, 0, table.Len())

	result, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestPendingTableUnknownID(t *testing.T) {
	table := NewPendingTable(nil)
	assert.False(t, table.Resolve(42, nil, nil))
	assert.False(t, table.Cancel(42))
}

func TestPendingTableCloseFlushesAll(t *testing.T) {
	table := NewPendingTable(nil)
	_, a := table.Register("a")
	_, b := table.Register("b")

	assert.Equal(t, 2, table.Close(ErrConnectionClosed))
	for _, call := range []*Call{a, b} {
		_, err := call.Wait(context.Background())
		assert.ErrorIs(t, err, ErrConnectionClosed)
	}

	_, late := table.Register("c")
	select {
	case <-late.Done():
	default:
		t.Fatal("registration after close should fail immediately")
	}
	_, err := late.Wait(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, 0, table.Close(ErrConnectionClosed))
}

func TestCallWaitCancelledByContext(t *testing.T) {
	table := NewPendingTable(nil)
	id, call := table.Register("session/prompt")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The late response finds nothing to resolve.
	assert.False(t, table.Resolve(id, json.RawMessage(`{}`), nil))
	assert.Equal(t, 0, table.Len())
}

func TestPendingTableCancel(t *testing.T) {
	table := NewPendingTable(nil)
	id, call := table.Register("m")
	assert.True(t, table.Cancel(id))
	_, err := call.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
}
