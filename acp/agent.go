package acp

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/errors"
	"github.com/m4xw311/tadpole/jsonrpc"
	"github.com/m4xw311/tadpole/tools"
)

// ErrNoSession is returned by Prompt and Cancel before a session exists.
var ErrNoSession = errors.Sentinel("acp: no active session")

// closeGrace is how long Close waits for the agent to exit on its own after
// stdin is closed before killing it.
const closeGrace = 2 * time.Second

// AgentConfig describes the agent process and the session to open with it.
type AgentConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	// Cwd is the project directory: the child's working directory and the
	// cwd sent in session/new. Empty means the current directory.
	Cwd        string
	McpServers []McpServer
}

// NewAgentConfig builds an AgentConfig from loaded configuration.
func NewAgentConfig(cfg *config.Config, cwd string) AgentConfig {
	command, args := cfg.Agent.CommandLine()
	return AgentConfig{
		Command:    command,
		Args:       args,
		Env:        cfg.Agent.Env,
		Cwd:        cwd,
		McpServers: McpServersFrom(cfg.MCPServers),
	}
}

// McpServersFrom converts configured MCP servers to their session/new form.
func McpServersFrom(servers []config.MCPServer) []McpServer {
	out := make([]McpServer, 0, len(servers))
	for _, srv := range servers {
		out = append(out, McpServer{
			Name:    srv.Name,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     envList(srv.Env),
		})
	}
	return out
}

func envList(env map[string]string) []EnvVariable {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]EnvVariable, 0, len(keys))
	for _, k := range keys {
		out = append(out, EnvVariable{Name: k, Value: env[k]})
	}
	return out
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

func WithLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithEventSink sets where state changes and session updates are delivered.
func WithEventSink(sink EventSink) AgentOption {
	return func(a *Agent) {
		if sink != nil {
			a.sink = sink
		}
	}
}

// WithFileSystem serves fs/read_text_file and fs/write_text_file from fs and
// advertises both capabilities. Without it neither is offered.
func WithFileSystem(fs *tools.FileSystem) AgentOption {
	return func(a *Agent) { a.fs = fs }
}

// WithPermissionPolicy sets how session/request_permission is answered.
func WithPermissionPolicy(policy PermissionPolicy) AgentOption {
	return func(a *Agent) { a.policy = policy }
}

// WithTrace logs every protocol line at debug level.
func WithTrace(enabled bool) AgentOption {
	return func(a *Agent) { a.trace = enabled }
}

// WithMethods registers additional inbound methods next to the built-in
// client handlers.
func WithMethods(register func(*jsonrpc.Registry)) AgentOption {
	return func(a *Agent) { a.extra = append(a.extra, register) }
}

// Agent drives one ACP agent subprocess: it spawns it, performs the
// initialize and session/new handshake and then relays prompts and updates.
type Agent struct {
	cfg    AgentConfig
	logger *slog.Logger
	sink   EventSink
	fs     *tools.FileSystem
	policy PermissionPolicy
	trace  bool
	extra  []func(*jsonrpc.Registry)

	mu              sync.Mutex
	state           State
	protocolVersion int
	capabilities    AgentCapabilities
	authMethods     []AuthMethod
	sessionID       string

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	engine   *jsonrpc.Engine
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	exited   chan struct{}
	exitOnce sync.Once
	waitErr  error
	closing  sync.Once
}

func NewAgent(cfg AgentConfig, opts ...AgentOption) *Agent {
	a := &Agent{
		cfg:    cfg,
		logger: slog.Default(),
		sink:   discardSink{},
		policy: PermissionPolicy(config.PermissionAllowOnce),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "acp")
	return a
}

// Start spawns the agent and runs the handshake. It returns once a session is
// active, or with the first fatal error, after which the agent is closed.
// ctx bounds the handshake only; the process runs until Close or until it
// exits.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateNotStarted {
		a.mu.Unlock()
		return errors.New("acp: agent already started")
	}
	a.mu.Unlock()
	a.setState(StateStarting)

	if err := a.spawn(ctx); err != nil {
		a.finish()
		a.exit()
		return err
	}

	if err := a.handshake(ctx); err != nil {
		a.Close()
		return err
	}
	return nil
}

func (a *Agent) spawn(ctx context.Context) error {
	if a.cfg.Command == "" {
		return errors.New("acp: no agent command configured")
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(procCtx, a.cfg.Command, a.cfg.Args...)
	cmd.Dir = a.cfg.Cwd
	cmd.Env = os.Environ()
	for _, kv := range envList(a.cfg.Env) {
		cmd.Env = append(cmd.Env, kv.Name+"="+kv.Value)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return errors.Wrapf(err, "acp: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return errors.Wrapf(err, "acp: stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return errors.Wrapf(err, "acp: stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return errors.Wrapf(err, "acp: start agent %q", a.cfg.Command)
	}
	a.logger.Info("agent started", "command", a.cfg.Command, "pid", cmd.Process.Pid)

	reg := jsonrpc.NewRegistry()
	a.register(reg)
	for _, register := range a.extra {
		register(reg)
	}
	engine := jsonrpc.NewEngine(stdout, stdin, reg,
		jsonrpc.WithLogger(a.logger), jsonrpc.WithTrace(a.trace))

	a.mu.Lock()
	a.cmd, a.stdin, a.engine, a.cancel = cmd, stdin, engine, cancel
	a.mu.Unlock()

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		a.drainStderr(stderr)
	}()
	go a.run(procCtx, engine, stderrDone)
	return nil
}

// run owns the connection. The session is over as soon as the agent's
// stdout ends, even if the process lingers; reaping it happens afterwards.
func (a *Agent) run(ctx context.Context, engine *jsonrpc.Engine, stderrDone <-chan struct{}) {
	runErr := engine.Run(ctx)

	a.mu.Lock()
	a.waitErr = runErr
	stdin := a.stdin
	a.mu.Unlock()
	if err := stdin.Close(); err != nil {
		a.logger.Debug("closing agent stdin", "error", err)
	}
	a.logger.Debug("agent stream ended")
	a.finish()

	<-stderrDone
	waitErr := a.cmd.Wait()
	a.cancel()

	a.mu.Lock()
	a.waitErr = errors.Join(runErr, waitErr)
	a.mu.Unlock()

	if waitErr != nil {
		a.logger.Info("agent exited", "error", waitErr)
	} else {
		a.logger.Info("agent exited")
	}
	a.exit()
}

func (a *Agent) finish() {
	a.setState(StateClosed)
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *Agent) exit() {
	a.exitOnce.Do(func() { close(a.exited) })
}

func (a *Agent) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		a.logger.Debug("agent stderr", "line", scanner.Text())
	}
	// Keep the pipe drained past an over-long line.
	io.Copy(io.Discard, r)
}

func (a *Agent) handshake(ctx context.Context) error {
	engine := a.Engine()

	initResult, err := Initialize.Invoke(ctx, engine, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientCapabilities: ClientCapabilities{
			FS: FileSystemCapability{
				ReadTextFile:  a.fs != nil,
				WriteTextFile: a.fs != nil,
			},
			Terminal: false,
		},
	})
	if err != nil {
		return errors.Wrapf(err, "acp: initialize")
	}
	if initResult.ProtocolVersion != ProtocolVersion {
		a.logger.Warn("agent negotiated a different protocol version", "version", initResult.ProtocolVersion)
	}
	a.mu.Lock()
	a.protocolVersion = initResult.ProtocolVersion
	a.capabilities = initResult.AgentCapabilities
	a.authMethods = initResult.AuthMethods
	a.mu.Unlock()
	a.setState(StateInitialized)
	a.sink.Publish(CapabilitiesUpdated{
		ProtocolVersion: initResult.ProtocolVersion,
		Capabilities:    initResult.AgentCapabilities,
		AuthMethods:     initResult.AuthMethods,
	})

	cwd := a.cfg.Cwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return errors.Wrapf(err, "acp: resolve working directory")
		}
	}
	session, err := NewSession.Invoke(ctx, engine, NewSessionParams{
		Cwd:        cwd,
		McpServers: a.cfg.McpServers,
	})
	if err != nil {
		return errors.Wrapf(err, "acp: session/new")
	}
	a.mu.Lock()
	a.sessionID = session.SessionID
	a.mu.Unlock()
	a.logger.Info("session started", "session", session.SessionID)
	a.setState(StateSessionActive)
	a.sink.Publish(SessionStarted{SessionID: session.SessionID})
	return nil
}

// Prompt sends text to the active session and waits for the turn to end.
func (a *Agent) Prompt(ctx context.Context, text string) (StopReason, error) {
	return a.PromptBlocks(ctx, []ContentBlock{TextBlock(text)})
}

// PromptBlocks sends a prompt made of arbitrary content blocks. When ctx ends
// before the turn does, session/cancel is sent and the context error returned.
func (a *Agent) PromptBlocks(ctx context.Context, blocks []ContentBlock) (StopReason, error) {
	sessionID, engine, err := a.activeSession()
	if err != nil {
		return "", err
	}
	pending, err := Prompt.Call(ctx, engine, PromptParams{SessionID: sessionID, Prompt: blocks})
	if err != nil {
		return "", err
	}
	result, err := pending.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			if cerr := Cancel.Notify(context.Background(), engine, CancelParams{SessionID: sessionID}); cerr != nil {
				a.logger.Debug("session/cancel not sent", "error", cerr)
			}
		}
		return "", err
	}
	// Updates sent ahead of the response reach the sink before Prompt returns.
	if err := engine.Sync(ctx); err != nil {
		a.logger.Debug("session updates not flushed", "error", err)
	}
	return result.StopReason, nil
}

// Cancel asks the agent to stop the turn in progress.
func (a *Agent) Cancel(ctx context.Context) error {
	sessionID, engine, err := a.activeSession()
	if err != nil {
		return err
	}
	return Cancel.Notify(ctx, engine, CancelParams{SessionID: sessionID})
}

func (a *Agent) activeSession() (string, *jsonrpc.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateSessionActive {
		return "", nil, errors.Wrapf(ErrNoSession, "state %s", a.state)
	}
	return a.sessionID, a.engine, nil
}

// Close ends the connection: stdin is closed so the agent can exit, and the
// process is killed if it is still running after a grace period. Close waits
// until the process has been reaped.
func (a *Agent) Close() error {
	a.closing.Do(func() {
		a.mu.Lock()
		engine, stdin, cancel := a.engine, a.stdin, a.cancel
		a.mu.Unlock()
		if engine == nil {
			// Never started.
			a.finish()
			a.exit()
			return
		}
		engine.Close()
		if err := stdin.Close(); err != nil {
			a.logger.Debug("closing agent stdin", "error", err)
		}
		select {
		case <-a.exited:
		case <-time.After(closeGrace):
			a.logger.Warn("agent did not exit, killing it")
			cancel()
		}
	})
	<-a.exited
	return nil
}

// Wait blocks until the agent process has been reaped and returns how it
// ended.
func (a *Agent) Wait() error {
	<-a.exited
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waitErr
}

// Done is closed when the agent reaches StateClosed: its stdout has ended or
// it was closed. The process may still be exiting; Wait reaps it.
func (a *Agent) Done() <-chan struct{} { return a.done }

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SessionID is empty until session/new has succeeded.
func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Capabilities returns what the agent reported at initialize.
func (a *Agent) Capabilities() (AgentCapabilities, []AuthMethod) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capabilities, a.authMethods
}

// Engine returns the JSON-RPC engine once the process is running, for calls
// outside the built-in descriptor set.
func (a *Agent) Engine() *jsonrpc.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

func (a *Agent) setState(to State) {
	a.mu.Lock()
	from := a.state
	if from == to || from == StateClosed {
		a.mu.Unlock()
		return
	}
	a.state = to
	a.mu.Unlock()

	a.logger.Debug("state changed", "from", from.String(), "to", to.String())
	a.sink.Publish(StateChanged{From: from, To: to})
}
