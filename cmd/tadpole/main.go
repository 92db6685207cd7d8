// Command tadpole drives an ACP agent from the terminal.
//
//	tadpole [-c config.yaml] [-cwd dir] [-trace] [-p prompt] [agent-command [args...]]
//
// Arguments after the flags replace the configured agent command.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/m4xw311/tadpole/acp"
	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/logging"
	"github.com/m4xw311/tadpole/terminal"
	"github.com/m4xw311/tadpole/tools"
	"github.com/m4xw311/tadpole/tools/mcp"
)

const startTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("tadpole", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("c", "", "configuration file (default: ~/.tadpole and ./.tadpole)")
	traceFlag := flags.Bool("trace", false, "log every JSON-RPC message to the trace file")
	cwdFlag := flags.String("cwd", "", "project directory the session works in (default: current directory)")
	promptFlag := flags.String("p", "", "prompt to send once the session is ready")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %+v\n", err)
		return 1
	}
	if *traceFlag {
		cfg.Log.Trace = true
	}
	if rest := flags.Args(); len(rest) > 0 {
		cfg.Agent.Command = rest[0]
		cfg.Agent.Args = rest[1:]
	}
	if cfg.Agent.Command == "" {
		fmt.Fprintln(stderr, "No agent command configured. Set agent.command or pass it after the flags.")
		return 1
	}

	logger, closer, err := logging.NewWithWriter(stderr, cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "Error setting up logging: %+v\n", err)
		return 1
	}
	defer closer.Close()

	cwd, err := projectDir(*cwdFlag)
	if err != nil {
		fmt.Fprintf(stderr, "Error resolving project directory: %+v\n", err)
		return 1
	}

	agentCfg := acp.NewAgentConfig(cfg, cwd)
	if cfg.Agent.ProbeMCP && len(cfg.MCPServers) > 0 {
		agentCfg.McpServers = acp.McpServersFrom(mcp.Reachable(mcp.Probe(ctx, cfg.MCPServers, logger)))
	}

	term := terminal.New(stdin, stdout)
	agent := acp.NewAgent(agentCfg,
		acp.WithLogger(logger),
		acp.WithEventSink(term),
		acp.WithFileSystem(tools.NewFileSystem(cwd, cfg.FilesystemAccess)),
		acp.WithPermissionPolicy(acp.PermissionPolicy(cfg.Permissions)),
		acp.WithTrace(cfg.Log.Trace),
	)
	defer agent.Close()

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	err = agent.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(stderr, "Error starting agent: %+v\n", err)
		return 1
	}
	term.SetAgent(agent)

	fmt.Fprintln(stdout, "tadpole is ready. Type your prompt.")
	if err := term.Run(ctx, *promptFlag); err != nil {
		fmt.Fprintf(stderr, "Session stopped with an error: %+v\n", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadConfig()
}

func projectDir(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}
	return filepath.Abs(dir)
}
