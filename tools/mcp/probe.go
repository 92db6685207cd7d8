// Package mcp checks the MCP servers a session would be created with, so that
// servers which cannot start are left out of session/new.
package mcp

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"sort"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/errors"
)

// Result is the outcome of probing one server.
type Result struct {
	Server config.MCPServer
	Tools  []string
	Err    error
}

// OK reports whether the server answered.
func (r Result) OK() bool { return r.Err == nil }

// Probe starts every server in turn, lists the tools it offers and stops it
// again. A failing server does not stop the others from being probed.
func Probe(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) []Result {
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]Result, 0, len(servers))
	for _, srv := range servers {
		tools, err := listTools(ctx, srv)
		if err != nil {
			logger.Warn("mcp server unavailable", "server", srv.Name, "error", err)
		} else {
			logger.Debug("mcp server available", "server", srv.Name, "tools", len(tools))
		}
		results = append(results, Result{Server: srv, Tools: tools, Err: err})
	}
	return results
}

// Reachable returns the servers whose probe succeeded, in probe order.
func Reachable(results []Result) []config.MCPServer {
	var out []config.MCPServer
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Server)
		}
	}
	return out
}

func listTools(ctx context.Context, srv config.MCPServer) ([]string, error) {
	cmd := exec.CommandContext(ctx, srv.Command, srv.Args...)
	cmd.Env = os.Environ()
	for k, v := range srv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "tadpole", Version: "v0.1.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", srv.Name)
	}
	defer conn.Close()

	var names []string
	params := &mcpsdk.ListToolsParams{}
	for {
		page, err := conn.ListTools(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", srv.Name)
		}
		for _, t := range page.Tools {
			names = append(names, t.Name)
		}
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}
	sort.Strings(names)
	return names, nil
}
