// Package agent is a small ACP agent: the other end of package acp. It is
// what cmd/tadpole-agent runs and what the end-to-end tests drive.
//
// The agent serves initialize, session/new, session/prompt and
// session/cancel. A prompt is flattened into one user message (linked
// file:// resources are read back through fs/read_text_file when the client
// advertised that capability), sent with the session history to an
// llm.Client, and the reply is streamed as agent_message_chunk updates, one
// per line.
//
// Usage:
//
//	a := agent.New(&llm.MockClient{}, agent.WithLogger(logger))
//	err := a.Serve(ctx, os.Stdin, os.Stdout)
package agent
