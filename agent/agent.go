package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/m4xw311/tadpole/acp"
	"github.com/m4xw311/tadpole/jsonrpc"
	"github.com/m4xw311/tadpole/llm"
	"github.com/m4xw311/tadpole/session"
)

// maxResourceSize caps how much of a linked file is inlined into a prompt.
const maxResourceSize = 50000

type Option func(*Agent)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithSystemPrompt starts every new session with a system message.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// Agent answers one ACP client. Replies come from an llm.Client and each
// session keeps its history in memory.
type Agent struct {
	llm          llm.Client
	sessions     *session.Store
	logger       *slog.Logger
	systemPrompt string

	mu         sync.Mutex
	clientCaps acp.ClientCapabilities
	turns      map[string]context.CancelFunc
}

func New(client llm.Client, opts ...Option) *Agent {
	a := &Agent{
		llm:      client,
		sessions: session.NewStore(),
		logger:   slog.Default(),
		turns:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "agent")
	return a
}

// Register exposes the agent side of the protocol on reg.
func (a *Agent) Register(reg *jsonrpc.Registry) {
	jsonrpc.Expose(reg, acp.Initialize, a.initialize)
	jsonrpc.Expose(reg, acp.NewSession, a.newSession)
	jsonrpc.Expose(reg, acp.Prompt, a.prompt)
	jsonrpc.ExposeNotification(reg, acp.Cancel, a.cancel)
}

// Serve speaks ACP over r and w until the client goes away.
func (a *Agent) Serve(ctx context.Context, r io.Reader, w io.Writer, opts ...jsonrpc.Option) error {
	reg := jsonrpc.NewRegistry()
	a.Register(reg)
	return jsonrpc.NewEngine(r, w, reg, opts...).Run(ctx)
}

// Sessions returns the session store.
func (a *Agent) Sessions() *session.Store { return a.sessions }

func (a *Agent) initialize(_ context.Context, p acp.InitializeParams) (acp.InitializeResult, error) {
	a.mu.Lock()
	a.clientCaps = p.ClientCapabilities
	a.mu.Unlock()
	a.logger.Info("client initialized",
		"protocol_version", p.ProtocolVersion,
		"fs_read", p.ClientCapabilities.FS.ReadTextFile,
		"fs_write", p.ClientCapabilities.FS.WriteTextFile)

	return acp.InitializeResult{
		ProtocolVersion: acp.ProtocolVersion,
		AgentCapabilities: acp.AgentCapabilities{
			PromptCapabilities: acp.PromptCapabilities{EmbeddedContext: true},
		},
		AuthMethods: []acp.AuthMethod{},
	}, nil
}

func (a *Agent) newSession(_ context.Context, p acp.NewSessionParams) (acp.NewSessionResult, error) {
	if p.Cwd == "" {
		return acp.NewSessionResult{}, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params", "cwd is required")
	}
	sess := a.sessions.New(p.Cwd)
	if a.systemPrompt != "" {
		sess.AddMessage(session.Message{Role: session.RoleSystem, Content: a.systemPrompt})
	}
	servers := make([]string, 0, len(p.McpServers))
	for _, s := range p.McpServers {
		servers = append(servers, s.Name)
	}
	a.logger.Info("session created", "session", sess.ID, "cwd", p.Cwd, "mcp_servers", servers)
	return acp.NewSessionResult{SessionID: sess.ID}, nil
}

func unknownSession() error {
	return jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params", "unknown sessionId")
}

func (a *Agent) prompt(ctx context.Context, p acp.PromptParams) (acp.PromptResult, error) {
	sess, ok := a.sessions.Get(p.SessionID)
	if !ok {
		return acp.PromptResult{}, unknownSession()
	}
	engine, ok := jsonrpc.FromContext(ctx)
	if !ok {
		return acp.PromptResult{}, fmt.Errorf("session/prompt outside a connection")
	}

	turn, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	if _, busy := a.turns[sess.ID]; busy {
		a.mu.Unlock()
		return acp.PromptResult{}, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "Invalid request", "a prompt is already running for this session")
	}
	a.turns[sess.ID] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.turns, sess.ID)
		a.mu.Unlock()
	}()

	sess.AddMessage(session.Message{Role: session.RoleUser, Content: a.promptText(turn, engine, sess.ID, p.Prompt)})

	reply, err := a.llm.Chat(turn, sess.Messages())
	if turn.Err() != nil && ctx.Err() == nil {
		a.logger.Info("turn cancelled", "session", sess.ID)
		return acp.PromptResult{StopReason: acp.StopCancelled}, nil
	}
	if err != nil {
		a.logger.Error("llm chat failed", "session", sess.ID, "error", err)
		return acp.PromptResult{}, err
	}
	sess.AddMessage(*reply)

	for _, chunk := range chunks(reply.Content) {
		if turn.Err() != nil {
			return acp.PromptResult{StopReason: acp.StopCancelled}, nil
		}
		err := acp.Update.Notify(turn, engine, acp.SessionNotification{
			SessionID: sess.ID,
			Update: acp.SessionUpdate{
				SessionUpdate: acp.UpdateAgentMessageChunk,
				Content:       &acp.ContentBlock{Type: acp.ContentText, Text: chunk},
			},
		})
		if err != nil {
			return acp.PromptResult{}, err
		}
	}
	return acp.PromptResult{StopReason: acp.StopEndTurn}, nil
}

func (a *Agent) cancel(_ context.Context, p acp.CancelParams) error {
	a.mu.Lock()
	cancel, ok := a.turns[p.SessionID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (a *Agent) canReadFiles() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientCaps.FS.ReadTextFile
}

// promptText flattens the prompt blocks into one user message. Linked
// files are fetched from the client when it allows reads.
func (a *Agent) promptText(ctx context.Context, c jsonrpc.Caller, sessionID string, blocks []acp.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case acp.ContentText:
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case acp.ContentResourceLink:
			parts = append(parts, a.resourceText(ctx, c, sessionID, b))
		default:
			a.logger.Debug("ignoring prompt block", "type", b.Type)
		}
	}
	return strings.Join(parts, "\n")
}

func (a *Agent) resourceText(ctx context.Context, c jsonrpc.Caller, sessionID string, b acp.ContentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}

	path, ok := filePath(b.URI)
	switch {
	case !ok:
		sb.WriteString("\n[External resource - content not available]\n")
	case !a.canReadFiles():
		sb.WriteString("\n[File contents not shared by the client]\n")
	default:
		res, err := acp.ReadTextFile.Invoke(ctx, c, acp.ReadTextFileParams{SessionID: sessionID, Path: path})
		if err != nil {
			a.logger.Warn("reading linked file failed", "path", path, "error", err)
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
			break
		}
		content := res.Content
		if len(content) > maxResourceSize {
			content = truncate(content, maxResourceSize) + "\n\n[... truncated ...]"
		}
		fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func filePath(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return "", false
	}
	return u.Path, true
}

// chunks splits a reply into line-sized agent_message_chunk payloads.
func chunks(text string) []string {
	var out []string
	for _, line := range strings.SplitAfter(text, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
