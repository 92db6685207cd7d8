// Package terminal implements the interactive command-line front end.
//
// A Terminal reads one prompt per line and sends it to the agent session.
// Whatever the agent streams back arrives through Publish (the Terminal is
// the session's EventSink) and is printed as it comes: message chunks as
// plain text, thoughts faint, tool calls and plans on lines of their own.
//
// Commands:
//
//   - /cancel stops the running prompt
//   - /quit and /exit leave the loop
//
// Usage:
//
//	term := terminal.New(os.Stdin, os.Stdout)
//	agent := acp.NewAgent(cfg, acp.WithEventSink(term))
//	if err := agent.Start(ctx); err != nil {
//	    // handle error
//	}
//	term.SetAgent(agent)
//	err := term.Run(ctx, initialPrompt)
package terminal
