package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/tadpole/acp"
	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/tools"
)

// frame is what travels over the websocket in both directions. Clients send
// {"type":"prompt","text":...} or {"type":"cancel"}; a frame that is not
// JSON is taken as prompt text.
type frame struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Text       string `json:"text,omitempty"`
	State      string `json:"state,omitempty"`
	StopReason string `json:"stopReason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func parseFrame(data []byte) frame {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		return frame{Type: "prompt", Text: string(data)}
	}
	return f
}

// bridge starts one agent per websocket connection.
type bridge struct {
	cfg          *config.Config
	cwd          string
	logger       *slog.Logger
	startTimeout time.Duration
	upgrader     websocket.Upgrader
}

func newBridge(cfg *config.Config, cwd string, logger *slog.Logger) *bridge {
	return &bridge{
		cfg:          cfg,
		cwd:          cwd,
		logger:       logger,
		startTimeout: 30 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// frameWriter serialises writes to the connection. It is the agent's
// EventSink.
type frameWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

func (w *frameWriter) write(f frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteJSON(f); err != nil {
		w.logger.Debug("ws write failed", "type", f.Type, "error", err)
	}
}

func (w *frameWriter) Publish(e acp.Event) {
	switch ev := e.(type) {
	case acp.StateChanged:
		w.write(frame{Type: "state", State: ev.To.String()})
	case acp.SessionStarted:
		w.write(frame{Type: "session", SessionID: ev.SessionID})
	case acp.UpdateEvent:
		w.write(frame{Type: "update", SessionID: ev.SessionID, Kind: ev.Type, Text: ev.Text})
	case acp.Thinking:
		w.write(frame{Type: "thinking", SessionID: ev.SessionID, Text: ev.Text})
	}
}

func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	logger := b.logger.With("remote", r.RemoteAddr)
	out := &frameWriter{conn: conn, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := acp.NewAgent(acp.NewAgentConfig(b.cfg, b.cwd),
		acp.WithLogger(logger),
		acp.WithEventSink(out),
		acp.WithFileSystem(tools.NewFileSystem(b.cwd, b.cfg.FilesystemAccess)),
		acp.WithPermissionPolicy(acp.PermissionPolicy(b.cfg.Permissions)),
		acp.WithTrace(b.cfg.Log.Trace),
	)
	defer agent.Close()

	startCtx, stop := context.WithTimeout(ctx, b.startTimeout)
	err = agent.Start(startCtx)
	stop()
	if err != nil {
		logger.Error("agent failed to start", "error", err)
		out.write(frame{Type: "error", Error: err.Error()})
		return
	}

	// The connection goes when the agent does.
	go func() {
		select {
		case <-agent.Done():
			out.write(frame{Type: "closed"})
			conn.Close()
		case <-ctx.Done():
		}
	}()

	var busy atomic.Bool
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("ws read ended", "error", err)
			return
		}
		req := parseFrame(data)
		switch req.Type {
		case "cancel":
			if err := agent.Cancel(ctx); err != nil {
				out.write(frame{Type: "error", Error: err.Error()})
			}
		case "prompt":
			if !busy.CompareAndSwap(false, true) {
				out.write(frame{Type: "error", Error: "a prompt is still running"})
				continue
			}
			go func(text string) {
				defer busy.Store(false)
				stopReason, err := agent.Prompt(ctx, text)
				if err != nil {
					out.write(frame{Type: "error", Error: err.Error()})
					return
				}
				out.write(frame{Type: "stop", StopReason: string(stopReason)})
			}(req.Text)
		default:
			out.write(frame{Type: "error", Error: "unknown frame type " + req.Type})
		}
	}
}
