// Package acp is the client side of the Agent Client Protocol: it spawns an
// agent as a subprocess and talks JSON-RPC 2.0 to it over newline-delimited
// stdio.
//
// Agent.Start performs the handshake:
//   - initialize: announce protocol version 1 and the client capabilities
//     (text file reads and writes when a FileSystem is configured, no
//     terminal), record the agent capabilities and auth methods
//   - session/new: open a session for the project directory
//
// After that Prompt sends session/prompt and Cancel sends session/cancel.
// While a turn runs the agent streams session/update notifications, which
// reach the EventSink as UpdateEvent and Thinking values in arrival order, and
// may call back fs/read_text_file, fs/write_text_file and
// session/request_permission.
//
// The method descriptors in this package are shared with the reference agent
// so both ends agree on names and shapes.
package acp
