// Command ws_bridge exposes an ACP agent over a websocket. Every connection
// gets its own agent process; its events are sent as JSON frames and text
// frames from the client become prompts.
//
//	ws_bridge [-addr :8080] [-c config.yaml] [-cwd dir] [agent-command [args...]]
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/errors"
	"github.com/m4xw311/tadpole/logging"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("c", "", "configuration file (default: ~/.tadpole and ./.tadpole)")
	cwdFlag := flag.String("cwd", "", "project directory sessions work in (default: current directory)")
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
	if rest := flag.Args(); len(rest) > 0 {
		cfg.Agent.Command = rest[0]
		cfg.Agent.Args = rest[1:]
	}
	if cfg.Agent.Command == "" {
		fmt.Fprintln(os.Stderr, "No agent command configured. Set agent.command or pass it after the flags.")
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %+v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	cwd := *cwdFlag
	if cwd == "" {
		cwd, err = os.Getwd()
	} else {
		cwd, err = filepath.Abs(cwd)
	}
	if err != nil {
		logger.Error("cannot resolve project directory", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", newBridge(cfg, cwd, logger))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("websocket bridge listening", "addr", *addr, "path", "/ws", "agent", cfg.Agent.Command)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
