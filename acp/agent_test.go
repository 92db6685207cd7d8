package acp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/jsonrpc"
	"github.com/m4xw311/tadpole/logging"
	"github.com/m4xw311/tadpole/tools"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) states() []State {
	var out []State
	for _, e := range r.snapshot() {
		if sc, ok := e.(StateChanged); ok {
			out = append(out, sc.To)
		}
	}
	return out
}

func (r *recorder) messages() []string {
	var out []string
	for _, e := range r.snapshot() {
		if u, ok := e.(UpdateEvent); ok && u.Type == UpdateAgentMessageChunk {
			out = append(out, u.Text)
		}
	}
	return out
}

func startHelper(t *testing.T, scenario string, opts ...AgentOption) (*Agent, *recorder, AgentConfig) {
	t.Helper()
	cfg := helperAgent(t, scenario)
	rec := &recorder{}
	opts = append([]AgentOption{
		WithLogger(logging.Discard()),
		WithEventSink(rec),
		WithFileSystem(tools.NewFileSystem(cfg.Cwd, config.Default().FilesystemAccess)),
	}, opts...)
	agent := NewAgent(cfg, opts...)
	t.Cleanup(func() { agent.Close() })
	return agent, rec, cfg
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAgentHandshakeAndPrompt(t *testing.T) {
	agent, rec, cfg := startHelper(t, "happy")
	ctx := testContext(t)

	require.NoError(t, agent.Start(ctx))
	assert.Equal(t, StateSessionActive, agent.State())
	assert.Equal(t, "sess-1", agent.SessionID())

	caps, auth := agent.Capabilities()
	assert.True(t, caps.LoadSession)
	assert.True(t, caps.PromptCapabilities.EmbeddedContext)
	assert.Equal(t, []AuthMethod{{ID: "none", Name: "None"}}, auth)
	assert.Equal(t, []State{StateStarting, StateInitialized, StateSessionActive}, rec.states())
	assert.Contains(t, rec.snapshot(), Event(SessionStarted{SessionID: "sess-1"}))

	path := filepath.Join(cfg.Cwd, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello file"), 0o644))

	stop, err := agent.Prompt(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, stop)

	want := []string{"Hello, Will!", "read: hello file", "permission: a1"}
	require.Eventually(t, func() bool { return len(rec.messages()) == len(want) }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, rec.messages())
	assert.Contains(t, rec.snapshot(), Event(Thinking{SessionID: "sess-1", Text: "thinking..."}))

	written, err := os.ReadFile(path + ".out")
	require.NoError(t, err)
	assert.Equal(t, "written", string(written))

	require.NoError(t, agent.Close())
	assert.Equal(t, StateClosed, agent.State())
	select {
	case <-agent.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, agent.Wait())
	assert.Equal(t, StateClosed, rec.states()[len(rec.states())-1])
}

func TestAgentAcceptsLegacySessionID(t *testing.T) {
	agent, _, _ := startHelper(t, "legacy")
	require.NoError(t, agent.Start(testContext(t)))
	assert.Equal(t, "legacy-7", agent.SessionID())
}

func TestAgentInitializeError(t *testing.T) {
	agent, rec, _ := startHelper(t, "fail_init")

	err := agent.Start(testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize")
	assert.Contains(t, err.Error(), "boom")

	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)

	assert.Equal(t, StateClosed, agent.State())
	assert.NotContains(t, rec.states(), StateInitialized)
}

func TestAgentExitDuringHandshake(t *testing.T) {
	agent, _, _ := startHelper(t, "exit_on_init")

	err := agent.Start(testContext(t))
	assert.ErrorIs(t, err, jsonrpc.ErrConnectionClosed)

	var exitErr *exec.ExitError
	require.ErrorAs(t, agent.Wait(), &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.Equal(t, StateClosed, agent.State())
}

func TestAgentExitDuringPrompt(t *testing.T) {
	agent, _, cfg := startHelper(t, "die_on_prompt")
	ctx := testContext(t)
	require.NoError(t, agent.Start(ctx))

	_, err := agent.Prompt(ctx, filepath.Join(cfg.Cwd, "x"))
	assert.ErrorIs(t, err, jsonrpc.ErrConnectionClosed)

	select {
	case <-agent.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent not closed after the process exited")
	}
	_, err = agent.Prompt(ctx, "again")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAgentClosesWhenStdoutEnds(t *testing.T) {
	agent, rec, _ := startHelper(t, "close_stdout")
	ctx := testContext(t)
	require.NoError(t, agent.Start(ctx))

	select {
	case <-agent.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("agent still %s after its stdout ended", agent.State())
	}
	assert.Equal(t, StateClosed, agent.State())
	assert.Equal(t, StateClosed, rec.states()[len(rec.states())-1])

	// The process is still alive.
	select {
	case <-agent.exited:
		t.Fatal("process reaped before it exited")
	default:
	}

	_, err := agent.Prompt(ctx, "anyone there?")
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, agent.Close())
	assert.Error(t, agent.Wait())
}

func TestAgentPromptCancelledByContext(t *testing.T) {
	agent, _, _ := startHelper(t, "hang_prompt")
	ctx := testContext(t)
	require.NoError(t, agent.Start(ctx))

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err := agent.Prompt(short, "take your time")
	assert.ErrorIs(t, err, jsonrpc.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The agent only ends a turn normally once it has seen session/cancel.
	stop, err := agent.Prompt(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, stop)
}

func TestAgentPromptBeforeStart(t *testing.T) {
	agent := NewAgent(AgentConfig{Command: "unused"}, WithLogger(logging.Discard()))
	_, err := agent.Prompt(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, agent.Cancel(context.Background()), ErrNoSession)

	require.NoError(t, agent.Close())
	assert.Equal(t, StateClosed, agent.State())
}

func TestAgentStartFailsForMissingBinary(t *testing.T) {
	agent := NewAgent(AgentConfig{Command: filepath.Join(t.TempDir(), "no-agent")}, WithLogger(logging.Discard()))
	require.Error(t, agent.Start(context.Background()))
	assert.Equal(t, StateClosed, agent.State())
	<-agent.Done()

	assert.Error(t, agent.Start(context.Background()), "a closed agent cannot be restarted")
}

func TestAgentStartWithoutCommand(t *testing.T) {
	agent := NewAgent(AgentConfig{}, WithLogger(logging.Discard()))
	assert.Error(t, agent.Start(context.Background()))
}

func TestNewAgentConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Command = "gemini --experimental-acp"
	cfg.Agent.Env = map[string]string{"A": "1"}
	cfg.MCPServers = []config.MCPServer{{Name: "gopls", Command: "gopls", Env: map[string]string{"B": "2", "A": "1"}}}

	got := NewAgentConfig(cfg, "/work")
	assert.Equal(t, "gemini", got.Command)
	assert.Equal(t, []string{"--experimental-acp"}, got.Args)
	assert.Equal(t, "/work", got.Cwd)
	require.Len(t, got.McpServers, 1)
	assert.Equal(t, []EnvVariable{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}}, got.McpServers[0].Env)
}
