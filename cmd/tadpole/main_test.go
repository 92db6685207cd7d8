package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/tadpole/agent"
	"github.com/m4xw311/tadpole/jsonrpc"
	"github.com/m4xw311/tadpole/llm"
	"github.com/m4xw311/tadpole/logging"
)

const helperEnv = "GO_WANT_TADPOLE_AGENT"

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// TestHelperProcess plays the agent for the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	a := agent.New(&llm.MockClient{}, agent.WithLogger(logging.Discard()))
	if err := a.Serve(context.Background(), os.Stdin, os.Stdout, jsonrpc.WithLogger(logging.Discard())); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunPromptsAgent(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	t.Setenv(helperEnv, "1")

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "log:\n  level: error\n")

	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	code := run(ctx, []string{"-c", cfgPath, "-cwd", dir, "-p", "hello", exe, "-test.run=^TestHelperProcess$"},
		strings.NewReader(""), &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "tadpole is ready.")
	assert.Contains(t, stdout.String(), "session ")
	assert.Contains(t, stdout.String(), "I am a mock LLM. You said: 'hello'.")
}

func TestRunWithoutAgentCommand(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "llm: mock\n")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-c", cfgPath}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "No agent command configured")
}

func TestRunRejectsBadInput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"-nope"}, strings.NewReader(""), &stdout, &stderr))

	cfgPath := writeConfig(t, t.TempDir(), "permissions: sometimes\n")
	assert.Equal(t, 1, run(context.Background(), []string{"-c", cfgPath, "agent"}, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Error loading configuration")
}

func TestRunFailsWhenAgentCannotStart(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "log:\n  level: error\n")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-c", cfgPath, filepath.Join(t.TempDir(), "missing-agent")},
		strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error starting agent")
}
