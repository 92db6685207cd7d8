package acp

import (
	"fmt"
	"strings"
)

// State is the lifecycle of an Agent.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateInitialized
	StateSessionActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateInitialized:
		return "initialized"
	case StateSessionActive:
		return "session-active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event is anything an Agent reports to its EventSink.
type Event interface {
	event()
}

type StateChanged struct {
	From, To State
}

type CapabilitiesUpdated struct {
	ProtocolVersion int
	Capabilities    AgentCapabilities
	AuthMethods     []AuthMethod
}

type SessionStarted struct {
	SessionID string
}

// UpdateEvent is a session/update from the agent. Type is the update kind
// (agent_message_chunk, tool_call, ...) and Text its human readable part.
type UpdateEvent struct {
	SessionID string
	Type      string
	Text      string
	Update    SessionUpdate
}

// Thinking is an agent_thought_chunk update.
type Thinking struct {
	SessionID string
	Text      string
}

func (StateChanged) event()        {}
func (CapabilitiesUpdated) event() {}
func (SessionStarted) event()      {}
func (UpdateEvent) event()         {}
func (Thinking) event()            {}

// EventSink receives events in the order the agent produced them. Publish is
// called from the connection's goroutines and must not block for long.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Publish(Event) {}

// eventFor turns a session/update notification into the event published for
// it.
func eventFor(n SessionNotification) Event {
	u := n.Update
	if u.SessionUpdate == UpdateAgentThoughtChunk {
		return Thinking{SessionID: n.SessionID, Text: contentText(u.Content)}
	}
	return UpdateEvent{
		SessionID: n.SessionID,
		Type:      u.SessionUpdate,
		Text:      updateText(u),
		Update:    u,
	}
}

func updateText(u SessionUpdate) string {
	switch u.SessionUpdate {
	case UpdateToolCall, UpdateToolCallUpdate:
		parts := make([]string, 0, 2)
		if u.Title != "" {
			parts = append(parts, u.Title)
		}
		if u.Status != "" {
			parts = append(parts, "("+u.Status+")")
		}
		if len(parts) == 0 {
			return toolContentText(u.ToolContent)
		}
		return strings.Join(parts, " ")
	case UpdatePlan:
		lines := make([]string, 0, len(u.Entries))
		for _, e := range u.Entries {
			lines = append(lines, "- "+e.Content)
		}
		return strings.Join(lines, "\n")
	}
	return contentText(u.Content)
}

func contentText(c *ContentBlock) string {
	if c == nil {
		return ""
	}
	switch c.Type {
	case ContentText:
		return c.Text
	case ContentResourceLink:
		if c.Name != "" {
			return c.Name
		}
		return c.URI
	}
	return ""
}

func toolContentText(items []ToolCallContent) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case ToolContentBlock:
			if text := contentText(item.Content); text != "" {
				lines = append(lines, text)
			}
		case ToolContentDiff:
			lines = append(lines, "diff "+item.Path)
		case ToolContentTerminal:
			lines = append(lines, "terminal "+item.TerminalID)
		}
	}
	return strings.Join(lines, "\n")
}
