package acp

import (
	"bytes"
	"encoding/json"

	"github.com/m4xw311/tadpole/errors"
)

// ProtocolVersion is the only ACP version this client speaks.
const ProtocolVersion = 1

type FileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

type ClientCapabilities struct {
	FS       FileSystemCapability `json:"fs"`
	Terminal bool                 `json:"terminal"`
}

type PromptCapabilities struct {
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
	Image           bool `json:"image"`
}

type AgentCapabilities struct {
	LoadSession        bool               `json:"loadSession"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
}

type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
}

type InitializeResult struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	AuthMethods       []AuthMethod      `json:"authMethods"`
}

type EnvVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// McpServer is an MCP server the agent should connect to. Args and Env are
// always sent as arrays.
type McpServer struct {
	Name    string        `json:"name"`
	Command string        `json:"command"`
	Args    []string      `json:"args"`
	Env     []EnvVariable `json:"env"`
}

func (s McpServer) MarshalJSON() ([]byte, error) {
	type plain McpServer
	if s.Args == nil {
		s.Args = []string{}
	}
	if s.Env == nil {
		s.Env = []EnvVariable{}
	}
	return json.Marshal(plain(s))
}

type NewSessionParams struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

func (p NewSessionParams) MarshalJSON() ([]byte, error) {
	type plain NewSessionParams
	if p.McpServers == nil {
		p.McpServers = []McpServer{}
	}
	return json.Marshal(plain(p))
}

type NewSessionResult struct {
	SessionID string `json:"sessionId"`
}

// UnmarshalJSON accepts the session id under "sessionId" and under the
// older "sessionID" spelling.
func (r *NewSessionResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		SessionID string `json:"sessionId"`
		Legacy    string `json:"sessionID"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.SessionID = raw.SessionID
	if r.SessionID == "" {
		r.SessionID = raw.Legacy
	}
	if r.SessionID == "" {
		return errors.New("session/new result carries no session id")
	}
	return nil
}

// Content block types.
const (
	ContentText         = "text"
	ContentResourceLink = "resource_link"
)

type ContentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

func ResourceLink(uri, name string) ContentBlock {
	return ContentBlock{Type: ContentResourceLink, URI: uri, Name: name}
}

type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopMaxTokens       StopReason = "max_tokens"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopRefusal         StopReason = "refusal"
	StopCancelled       StopReason = "cancelled"
)

type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

type PromptResult struct {
	StopReason StopReason `json:"stopReason"`
}

type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// Kinds of session/update.
const (
	UpdateUserMessageChunk  = "user_message_chunk"
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"
)

type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Tool call content types.
const (
	ToolContentBlock    = "content"
	ToolContentDiff     = "diff"
	ToolContentTerminal = "terminal"
)

// ToolCallContent is one element of a tool call's content list.
type ToolCallContent struct {
	Type       string        `json:"type"`
	Content    *ContentBlock `json:"content,omitempty"`
	Path       string        `json:"path,omitempty"`
	OldText    *string       `json:"oldText,omitempty"`
	NewText    string        `json:"newText,omitempty"`
	TerminalID string        `json:"terminalId,omitempty"`
}

type ToolCallLocation struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// SessionUpdate is the payload of a session/update notification. Which
// fields are set depends on SessionUpdate, the discriminator. The wire
// "content" field is a single block for message chunks and a list for tool
// calls; it decodes into Content or ToolContent accordingly.
type SessionUpdate struct {
	SessionUpdate string             `json:"sessionUpdate"`
	Content       *ContentBlock      `json:"-"`
	ToolContent   []ToolCallContent  `json:"-"`
	ToolCallID    string             `json:"toolCallId,omitempty"`
	Title         string             `json:"title,omitempty"`
	Kind          string             `json:"kind,omitempty"`
	Status        string             `json:"status,omitempty"`
	Locations     []ToolCallLocation `json:"locations,omitempty"`
	RawInput      json.RawMessage    `json:"rawInput,omitempty"`
	RawOutput     json.RawMessage    `json:"rawOutput,omitempty"`
	Entries       []PlanEntry        `json:"entries,omitempty"`
}

type sessionUpdateFields SessionUpdate

type sessionUpdateWire struct {
	sessionUpdateFields
	Content json.RawMessage `json:"content,omitempty"`
}

func (u SessionUpdate) MarshalJSON() ([]byte, error) {
	w := sessionUpdateWire{sessionUpdateFields: sessionUpdateFields(u)}
	var err error
	switch {
	case u.ToolContent != nil:
		w.Content, err = json.Marshal(u.ToolContent)
	case u.Content != nil:
		w.Content, err = json.Marshal(u.Content)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (u *SessionUpdate) UnmarshalJSON(data []byte) error {
	var w sessionUpdateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = SessionUpdate(w.sessionUpdateFields)
	raw := bytes.TrimSpace(w.Content)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '[':
		if err := json.Unmarshal(raw, &u.ToolContent); err != nil {
			return errors.Wrapf(err, "%s content", u.SessionUpdate)
		}
	default:
		u.Content = new(ContentBlock)
		if err := json.Unmarshal(raw, u.Content); err != nil {
			return errors.Wrapf(err, "%s content", u.SessionUpdate)
		}
	}
	return nil
}

type SessionNotification struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

type ReadTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

type ReadTextFileResult struct {
	Content string `json:"content"`
}

type WriteTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// WriteTextFileResult is always sent as null.
type WriteTextFileResult struct{}

type PermissionOptionKind string

const (
	PermissionAllowOnce    PermissionOptionKind = "allow_once"
	PermissionAllowAlways  PermissionOptionKind = "allow_always"
	PermissionRejectOnce   PermissionOptionKind = "reject_once"
	PermissionRejectAlways PermissionOptionKind = "reject_always"
)

type PermissionOption struct {
	OptionID string               `json:"optionId"`
	Name     string               `json:"name"`
	Kind     PermissionOptionKind `json:"kind"`
}

type ToolCallRef struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Status     string `json:"status,omitempty"`
}

type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallRef        `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

type GreetParams struct {
	Name string `json:"name"`
}
