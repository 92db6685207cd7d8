package acp

import (
	"context"

	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/jsonrpc"
)

// PermissionPolicy decides session/request_permission. Its values are the
// config permission policies.
type PermissionPolicy string

// Choose picks the first offered option whose kind the policy accepts. When
// none fits the request is answered as cancelled.
func (p PermissionPolicy) Choose(options []PermissionOption) PermissionOutcome {
	var accept []PermissionOptionKind
	switch string(p) {
	case config.PermissionAllowOnce:
		accept = []PermissionOptionKind{PermissionAllowOnce}
	case config.PermissionAllowAlways:
		accept = []PermissionOptionKind{PermissionAllowAlways, PermissionAllowOnce}
	case config.PermissionReject:
		accept = []PermissionOptionKind{PermissionRejectOnce, PermissionRejectAlways}
	}
	for _, kind := range accept {
		for _, opt := range options {
			if opt.Kind == kind {
				return PermissionOutcome{Outcome: OutcomeSelected, OptionID: opt.OptionID}
			}
		}
	}
	return PermissionOutcome{Outcome: OutcomeCancelled}
}

// register exposes the client side of the protocol: the methods an agent may
// call back into while a session runs.
func (a *Agent) register(reg *jsonrpc.Registry) {
	jsonrpc.Expose(reg, Greet, a.greet)
	if a.fs != nil {
		jsonrpc.Expose(reg, ReadTextFile, a.readTextFile)
		jsonrpc.Expose(reg, WriteTextFile, a.writeTextFile)
	}
	jsonrpc.Expose(reg, RequestPermission, a.requestPermission)
	jsonrpc.ExposeNotification(reg, Update, a.sessionUpdate)
}

func (a *Agent) greet(_ context.Context, p GreetParams) (string, error) {
	return "Hello, " + p.Name + "!", nil
}

func (a *Agent) checkSession(id string) error {
	if current := a.SessionID(); current != "" && id != current {
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params", "unknown sessionId")
	}
	return nil
}

func (a *Agent) readTextFile(_ context.Context, p ReadTextFileParams) (ReadTextFileResult, error) {
	if err := a.checkSession(p.SessionID); err != nil {
		return ReadTextFileResult{}, err
	}
	var line, limit int
	if p.Line != nil {
		line = *p.Line
	}
	if p.Limit != nil {
		limit = *p.Limit
	}
	content, err := a.fs.ReadTextFile(p.Path, line, limit)
	if err != nil {
		a.logger.Debug("fs/read_text_file failed", "path", p.Path, "error", err)
		return ReadTextFileResult{}, err
	}
	return ReadTextFileResult{Content: content}, nil
}

func (a *Agent) writeTextFile(_ context.Context, p WriteTextFileParams) (*WriteTextFileResult, error) {
	if err := a.checkSession(p.SessionID); err != nil {
		return nil, err
	}
	if err := a.fs.WriteTextFile(p.Path, p.Content); err != nil {
		a.logger.Debug("fs/write_text_file failed", "path", p.Path, "error", err)
		return nil, err
	}
	return nil, nil
}

func (a *Agent) requestPermission(_ context.Context, p RequestPermissionParams) (RequestPermissionResult, error) {
	if err := a.checkSession(p.SessionID); err != nil {
		return RequestPermissionResult{}, err
	}
	outcome := a.policy.Choose(p.Options)
	a.logger.Info("permission requested",
		"tool_call", p.ToolCall.ToolCallID, "title", p.ToolCall.Title,
		"outcome", outcome.Outcome, "option", outcome.OptionID)
	return RequestPermissionResult{Outcome: outcome}, nil
}

func (a *Agent) sessionUpdate(_ context.Context, n SessionNotification) error {
	a.sink.Publish(eventFor(n))
	return nil
}
