package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadConfigProjectOverridesUser(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(project)

	writeFile(t, filepath.Join(home, Dir, "config.yaml"), `
llm: anthropic
model: claude-sonnet
agent:
  command: gemini --experimental-acp
permissions: reject
`)
	writeFile(t, filepath.Join(project, Dir, "config.yaml"), `
model: claude-opus
filesystem_access:
  read_only:
    - "vendor/**"
log:
  level: debug
  trace: true
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLMClient)
	assert.Equal(t, "claude-opus", cfg.Model)
	assert.Equal(t, PermissionReject, cfg.Permissions)
	assert.Equal(t, []string{"vendor/**"}, cfg.FilesystemAccess.ReadOnly)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Trace)
	assert.Equal(t, "acp.trace", cfg.Log.TraceFile)

	cmd, args := cfg.Agent.CommandLine()
	assert.Equal(t, "gemini", cmd)
	assert.Equal(t, []string{"--experimental-acp"}, args)
}

func TestLoadConfigDefaultsWithoutFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
llm = "openai"
permissions = "allow_always"

[agent]
command = "my-agent"
args = ["--acp", "--verbose"]
probe_mcp = true

[agent.env]
API_TOKEN = "t"

[[mcp_servers]]
name = "gopls"
command = "gopls"
args = ["mcp"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLMClient)
	assert.Equal(t, PermissionAllowAlways, cfg.Permissions)
	assert.True(t, cfg.Agent.ProbeMCP)
	assert.Equal(t, map[string]string{"API_TOKEN": "t"}, cfg.Agent.Env)
	require.Len(t, cfg.MCPServers, 1)
	assert.Equal(t, "gopls", cfg.MCPServers[0].Name)

	cmd, args := cfg.Agent.CommandLine()
	assert.Equal(t, "my-agent", cmd)
	assert.Equal(t, []string{"--acp", "--verbose"}, args)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Permissions = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Log.Level = "chatty"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MCPServers = []MCPServer{{Name: "x"}}
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "agent: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestCommandLineEmpty(t *testing.T) {
	cmd, args := AgentCommand{}.CommandLine()
	assert.Empty(t, cmd)
	assert.Empty(t, args)
}
