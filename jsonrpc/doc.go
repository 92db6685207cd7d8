// Package jsonrpc implements a bidirectional JSON-RPC 2.0 engine over a pair
// of newline-delimited streams, typically the stdin and stdout of a child
// process.
//
// The same process acts as client and server at once:
//
//   - Outbound calls go through Engine.Call, which assigns an increasing
//     integer id, records a pending Call and writes the request. The read
//     loop resolves the Call when the matching response arrives; when the
//     stream ends every pending Call fails with ErrConnectionClosed.
//   - Inbound requests and notifications are answered from a Registry that
//     is filled before the engine starts. Unknown request methods are
//     answered with a "method not found" error; unknown notifications are
//     ignored.
//
// Method and Notification values describe a method once (wire name, params
// and result types) and are used both to call it and, through Expose, to
// register an implementation of it:
//
//	var greet = jsonrpc.Method[GreetParams, string]{Name: "greet"}
//
//	reg := jsonrpc.NewRegistry()
//	jsonrpc.Expose(reg, greet, func(ctx context.Context, p GreetParams) (string, error) {
//	    return "Hello, " + p.Name + "!", nil
//	})
//
//	engine := jsonrpc.NewEngine(stdout, stdin, reg)
//	go engine.Run(ctx)
//	reply, err := greet.Invoke(ctx, engine, GreetParams{Name: "Will"})
//
// Malformed lines are logged and skipped; only the end of the stream closes
// the connection.
package jsonrpc
