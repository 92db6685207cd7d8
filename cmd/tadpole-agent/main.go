// Command tadpole-agent is a reference ACP agent speaking JSON-RPC on stdin
// and stdout. Replies come from the configured llm client; logs go to
// stderr since stdout carries the protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/m4xw311/tadpole/agent"
	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/jsonrpc"
	"github.com/m4xw311/tadpole/llm"
	"github.com/m4xw311/tadpole/logging"
)

func main() {
	configPath := flag.String("c", "", "configuration file (default: ~/.tadpole and ./.tadpole)")
	systemPrompt := flag.String("system", "", "system prompt for every session")
	traceFlag := flag.Bool("trace", false, "log every JSON-RPC message to the trace file")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *traceFlag {
		cfg.Log.Trace = true
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %+v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := llm.New(ctx, cfg)
	if err != nil {
		logger.Error("llm client unavailable", "llm", cfg.LLMClient, "error", err)
		os.Exit(1)
	}

	a := agent.New(client, agent.WithLogger(logger), agent.WithSystemPrompt(*systemPrompt))
	logger.Info("serving ACP on stdio", "llm", cfg.LLMClient, "model", cfg.Model)
	if err := a.Serve(ctx, os.Stdin, os.Stdout, jsonrpc.WithLogger(logger), jsonrpc.WithTrace(cfg.Log.Trace)); err != nil {
		logger.Error("agent stopped", "error", err)
		os.Exit(1)
	}
}
