package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/m4xw311/tadpole/errors"
)

// Dir is the name of the per-user and per-project configuration directory.
const Dir = ".tadpole"

// Permission policies for session/request_permission.
const (
	PermissionAllowOnce   = "allow_once"
	PermissionAllowAlways = "allow_always"
	PermissionReject      = "reject"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden" toml:"hidden"`
	ReadOnly []string `yaml:"read_only" toml:"read_only"`
}

type MCPServer struct {
	Name    string            `yaml:"name" toml:"name"`
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args" toml:"args"`
	Env     map[string]string `yaml:"env" toml:"env"`
}

// AgentCommand is the agent subprocess to drive.
type AgentCommand struct {
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args" toml:"args"`
	Env     map[string]string `yaml:"env" toml:"env"`
	// ProbeMCP checks every configured MCP server before a session is
	// created and leaves out the ones that cannot be reached.
	ProbeMCP bool `yaml:"probe_mcp" toml:"probe_mcp"`
}

// CommandLine returns the executable and its arguments. A command given as
// one string with no separate args is split on whitespace.
func (a AgentCommand) CommandLine() (string, []string) {
	if len(a.Args) > 0 {
		return a.Command, a.Args
	}
	fields := strings.Fields(a.Command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

type LogConfig struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"`
	Trace     bool   `yaml:"trace" toml:"trace"`
	TraceFile string `yaml:"trace_file" toml:"trace_file"`
}

type Config struct {
	LLMClient        string           `yaml:"llm" toml:"llm"`
	Model            string           `yaml:"model" toml:"model"`
	Agent            AgentCommand     `yaml:"agent" toml:"agent"`
	MCPServers       []MCPServer      `yaml:"mcp_servers" toml:"mcp_servers"`
	Permissions      string           `yaml:"permissions" toml:"permissions"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access" toml:"filesystem_access"`
	Log              LogConfig        `yaml:"log" toml:"log"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		LLMClient:   "mock",
		Permissions: PermissionAllowOnce,
		FilesystemAccess: FilesystemAccess{
			// The configuration directory itself is never exposed to agents.
			Hidden: []string{"**/" + Dir, "**/" + Dir + "/**"},
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			TraceFile: "acp.trace",
		},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	// Load user-level config first
	if home, err := os.UserHomeDir(); err == nil {
		if err := loadDir(filepath.Join(home, Dir), cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading user config")
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	if err := loadDir(filepath.Join(wd, Dir), cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading project config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads one explicit configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := LoadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges the file at path into cfg. Files ending in .toml are read
// as TOML, anything else as YAML.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	// Unmarshal overwrites only the fields present in the file, so a later
	// file replaces what an earlier one set.
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return errors.Wrapf(err, "parse config %s", path)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

func loadDir(dir string, cfg *Config) error {
	for _, name := range []string{"config.yaml", "config.toml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := LoadFile(path, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects values no component knows how to honour.
func (c *Config) Validate() error {
	switch c.Permissions {
	case PermissionAllowOnce, PermissionAllowAlways, PermissionReject:
	default:
		return errors.New("unknown permissions policy %q (want %s, %s or %s)",
			c.Permissions, PermissionAllowOnce, PermissionAllowAlways, PermissionReject)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New("unknown log format %q", c.Log.Format)
	}
	for i, srv := range c.MCPServers {
		if srv.Name == "" || srv.Command == "" {
			return errors.New("mcp_servers[%d]: name and command are required", i)
		}
	}
	return nil
}
