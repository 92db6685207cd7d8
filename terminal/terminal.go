package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/m4xw311/tadpole/acp"
)

// Prompter is the part of acp.Agent the terminal drives.
type Prompter interface {
	Prompt(ctx context.Context, text string) (acp.StopReason, error)
	Cancel(ctx context.Context) error
}

var (
	youColor     = color.New(color.FgGreen, color.Bold)
	thoughtColor = color.New(color.Faint, color.Italic)
	toolColor    = color.New(color.FgCyan)
	planColor    = color.New(color.FgYellow)
	noticeColor  = color.New(color.FgHiBlack)
	errorColor   = color.New(color.FgRed)
)

// Terminal is a line-oriented REPL over an agent session. It is also the
// EventSink that prints what the agent streams back.
type Terminal struct {
	agent Prompter
	in    io.Reader

	mu      sync.Mutex
	out     io.Writer
	midLine bool
}

// New creates a Terminal reading prompts from in and writing to out. Pass it
// to acp.WithEventSink before setting the agent with SetAgent.
func New(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// SetAgent sets the agent prompts are sent to.
func (t *Terminal) SetAgent(agent Prompter) { t.agent = agent }

// Publish prints an agent event.
func (t *Terminal) Publish(e acp.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev := e.(type) {
	case acp.UpdateEvent:
		switch ev.Type {
		case acp.UpdateAgentMessageChunk:
			fmt.Fprint(t.out, ev.Text)
			t.midLine = !strings.HasSuffix(ev.Text, "\n")
		case acp.UpdateToolCall, acp.UpdateToolCallUpdate:
			t.lineLocked(toolColor, "[tool] "+ev.Text)
		case acp.UpdatePlan:
			t.lineLocked(planColor, "[plan]\n"+ev.Text)
		case acp.UpdateUserMessageChunk:
			t.lineLocked(noticeColor, "[you] "+ev.Text)
		default:
			t.lineLocked(noticeColor, fmt.Sprintf("[%s] %s", ev.Type, ev.Text))
		}
	case acp.Thinking:
		t.lineLocked(thoughtColor, ev.Text)
	case acp.SessionStarted:
		t.lineLocked(noticeColor, "session "+ev.SessionID+" started")
	}
}

// lineLocked prints text on a line of its own.
func (t *Terminal) lineLocked(c *color.Color, text string) {
	if t.midLine {
		fmt.Fprintln(t.out)
		t.midLine = false
	}
	c.Fprintln(t.out, text)
}

func (t *Terminal) line(c *color.Color, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lineLocked(c, text)
}

func (t *Terminal) showPrompt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.midLine {
		fmt.Fprintln(t.out)
		t.midLine = false
	}
	youColor.Fprint(t.out, "You: ")
}

// Run reads prompts until /quit, /exit or the end of input. The initial
// prompt, if any, is sent first. While a prompt runs, /cancel cancels it.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if t.agent == nil {
		return fmt.Errorf("terminal has no agent")
	}

	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	var scanErr error
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr = scanner.Err()
	}()

	var turn chan error
	start := func(text string) {
		turn = make(chan error, 1)
		go func(result chan<- error) {
			stop, err := t.agent.Prompt(ctx, text)
			if err == nil && stop != acp.StopEndTurn {
				t.line(noticeColor, "[stopped: "+string(stop)+"]")
			}
			result <- err
		}(turn)
	}

	if initialPrompt != "" {
		start(initialPrompt)
	} else {
		t.showPrompt()
	}

	input := lines
	for input != nil || turn != nil {
		select {
		case <-ctx.Done():
			return nil
		case err := <-turn:
			turn = nil
			if err != nil {
				t.line(errorColor, "Error: "+err.Error())
			}
			if input != nil {
				t.showPrompt()
			}
		case text, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			switch text = strings.TrimSpace(text); {
			case text == "/quit" || text == "/exit":
				if turn != nil {
					_ = t.agent.Cancel(ctx)
				}
				return nil
			case text == "/cancel":
				if turn == nil {
					t.line(noticeColor, "nothing to cancel")
					t.showPrompt()
				} else if err := t.agent.Cancel(ctx); err != nil {
					t.line(errorColor, "Error: "+err.Error())
				}
			case text == "":
				if turn == nil {
					t.showPrompt()
				}
			case turn != nil:
				t.line(noticeColor, "a prompt is still running, /cancel stops it")
			default:
				start(text)
			}
		}
	}

	t.mu.Lock()
	if t.midLine {
		fmt.Fprintln(t.out)
		t.midLine = false
	}
	t.mu.Unlock()
	return scanErr
}
