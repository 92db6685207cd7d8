package acp

import "github.com/m4xw311/tadpole/jsonrpc"

// Methods the client calls on the agent.
var (
	Initialize = jsonrpc.Method[InitializeParams, InitializeResult]{Name: "initialize"}
	NewSession = jsonrpc.Method[NewSessionParams, NewSessionResult]{Name: "new", Prefix: "session/"}
	Prompt     = jsonrpc.Method[PromptParams, PromptResult]{Name: "prompt", Prefix: "session/"}
	Cancel     = jsonrpc.Notification[CancelParams]{Name: "cancel", Prefix: "session/"}
)

// Methods the agent calls on the client.
var (
	Greet             = jsonrpc.Method[GreetParams, string]{Name: "greet"}
	ReadTextFile      = jsonrpc.Method[ReadTextFileParams, ReadTextFileResult]{Name: "read_text_file", Prefix: "fs/"}
	WriteTextFile     = jsonrpc.Method[WriteTextFileParams, *WriteTextFileResult]{Name: "write_text_file", Prefix: "fs/"}
	RequestPermission = jsonrpc.Method[RequestPermissionParams, RequestPermissionResult]{Name: "request_permission", Prefix: "session/"}
	Update            = jsonrpc.Notification[SessionNotification]{Name: "update", Prefix: "session/"}
)
