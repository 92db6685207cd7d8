package acp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/tadpole/jsonrpc"
	"github.com/m4xw311/tadpole/logging"
)

const helperEnv = "GO_WANT_ACP_HELPER"

// helperAgent returns the config that runs this test binary as a scripted
// agent playing the given scenario.
func helperAgent(t *testing.T, scenario string) AgentConfig {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable failed: %v", err)
	}
	return AgentConfig{
		Command: exe,
		Args:    []string{"-test.run=^TestHelperProcess$", "--", scenario},
		Env:     map[string]string{helperEnv: "1"},
		Cwd:     t.TempDir(),
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	scenario := "happy"
	for index, arg := range os.Args {
		if arg == "--" && index+1 < len(os.Args) {
			scenario = os.Args[index+1]
			break
		}
	}

	if err := runFakeAgent(scenario); err != nil {
		fmt.Fprintf(os.Stderr, "helper scenario failed: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

type fakeAgent struct {
	scenario string

	mu         sync.Mutex
	cancelSeen bool
	cancelled  chan struct{}
	prompts    int
}

func runFakeAgent(scenario string) error {
	fmt.Fprintln(os.Stderr, "fake agent ready:", scenario)

	f := &fakeAgent{scenario: scenario, cancelled: make(chan struct{})}
	reg := jsonrpc.NewRegistry()
	jsonrpc.Expose(reg, Initialize, f.initialize)
	// Declared with an untyped result so the legacy spelling can be sent.
	jsonrpc.Expose(reg, jsonrpc.Method[NewSessionParams, any]{Name: NewSession.Name, Prefix: NewSession.Prefix}, f.newSession)
	jsonrpc.Expose(reg, Prompt, f.prompt)
	jsonrpc.ExposeNotification(reg, Cancel, f.cancel)

	engine := jsonrpc.NewEngine(os.Stdin, os.Stdout, reg, jsonrpc.WithLogger(logging.Discard()))
	err := engine.Run(context.Background())
	if scenario == "close_stdout" {
		// Outlive the stream so the client cannot rely on the exit.
		time.Sleep(5 * time.Second)
	}
	return err
}

func (f *fakeAgent) initialize(_ context.Context, p InitializeParams) (InitializeResult, error) {
	switch f.scenario {
	case "fail_init":
		return InitializeResult{}, jsonrpc.NewError(-32000, "boom", nil)
	case "exit_on_init":
		os.Exit(3)
	}
	if p.ProtocolVersion != ProtocolVersion || !p.ClientCapabilities.FS.ReadTextFile || p.ClientCapabilities.Terminal {
		return InitializeResult{}, fmt.Errorf("unexpected initialize params %+v", p)
	}
	return InitializeResult{
		ProtocolVersion:   ProtocolVersion,
		AgentCapabilities: AgentCapabilities{LoadSession: true, PromptCapabilities: PromptCapabilities{EmbeddedContext: true}},
		AuthMethods:       []AuthMethod{{ID: "none", Name: "None"}},
	}, nil
}

type legacySession struct {
	SessionID string `json:"sessionID"`
}

func (f *fakeAgent) newSession(_ context.Context, p NewSessionParams) (any, error) {
	if p.Cwd == "" {
		return nil, fmt.Errorf("missing cwd")
	}
	if f.scenario == "close_stdout" {
		go func() {
			time.Sleep(200 * time.Millisecond)
			os.Stdout.Close()
		}()
	}
	if f.scenario == "legacy" {
		return legacySession{SessionID: "legacy-7"}, nil
	}
	return map[string]any{"sessionId": "sess-1", "servers": len(p.McpServers)}, nil
}

func (f *fakeAgent) cancel(_ context.Context, p CancelParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cancelSeen {
		f.cancelSeen = true
		close(f.cancelled)
	}
	return nil
}

func (f *fakeAgent) prompt(ctx context.Context, p PromptParams) (PromptResult, error) {
	switch f.scenario {
	case "die_on_prompt":
		os.Exit(0)
	case "hang_prompt":
		// Every turn waits for session/cancel; only the first one reports
		// being cancelled.
		f.mu.Lock()
		first := f.prompts == 0
		f.prompts++
		f.mu.Unlock()
		select {
		case <-f.cancelled:
		case <-time.After(10 * time.Second):
			return PromptResult{}, fmt.Errorf("cancel never arrived")
		}
		if first {
			return PromptResult{StopReason: StopCancelled}, nil
		}
		return PromptResult{StopReason: StopEndTurn}, nil
	}

	engine, _ := jsonrpc.FromContext(ctx)
	say := func(kind, text string) error {
		return Update.Notify(ctx, engine, SessionNotification{
			SessionID: p.SessionID,
			Update:    SessionUpdate{SessionUpdate: kind, Content: &ContentBlock{Type: ContentText, Text: text}},
		})
	}

	if err := say(UpdateAgentThoughtChunk, "thinking..."); err != nil {
		return PromptResult{}, err
	}

	hello, err := Greet.Invoke(ctx, engine, GreetParams{Name: "Will"})
	if err != nil {
		return PromptResult{}, err
	}
	if err := say(UpdateAgentMessageChunk, hello); err != nil {
		return PromptResult{}, err
	}

	path := strings.TrimSpace(p.Prompt[0].Text)
	read, err := ReadTextFile.Invoke(ctx, engine, ReadTextFileParams{SessionID: p.SessionID, Path: path})
	if err != nil {
		return PromptResult{}, err
	}
	if err := say(UpdateAgentMessageChunk, "read: "+read.Content); err != nil {
		return PromptResult{}, err
	}

	perm, err := RequestPermission.Invoke(ctx, engine, RequestPermissionParams{
		SessionID: p.SessionID,
		ToolCall:  ToolCallRef{ToolCallID: "call-1", Title: "Write file"},
		Options: []PermissionOption{
			{OptionID: "r1", Name: "Reject", Kind: PermissionRejectOnce},
			{OptionID: "a1", Name: "Allow", Kind: PermissionAllowOnce},
		},
	})
	if err != nil {
		return PromptResult{}, err
	}
	if err := say(UpdateAgentMessageChunk, "permission: "+perm.Outcome.OptionID); err != nil {
		return PromptResult{}, err
	}

	if _, err := WriteTextFile.Invoke(ctx, engine, WriteTextFileParams{SessionID: p.SessionID, Path: path + ".out", Content: "written"}); err != nil {
		return PromptResult{}, err
	}
	if _, err := ReadTextFile.Invoke(ctx, engine, ReadTextFileParams{SessionID: "someone-else", Path: path}); err == nil {
		return PromptResult{}, fmt.Errorf("foreign session id was accepted")
	}
	return PromptResult{StopReason: StopEndTurn}, nil
}
