package config

import (
	"os"
	"path/filepath"

	"github.com/alby13/grok-cli/errors"
	"gopkg.in/yaml.v3"
)

// ApprovalMode controls how tool calls that ask for confirmation are
// resolved. The scheduler consults the current mode during its confirmation
// phase; the exact decision is owned by each tool.
type ApprovalMode string

const (
	// ApprovalPrompt asks the user before running any tool that requests
	// confirmation.
	ApprovalPrompt ApprovalMode = "prompt"
	// ApprovalAuto runs every tool without asking.
	ApprovalAuto ApprovalMode = "auto"
	// ApprovalSafe auto-approves read-only tools and asks for the rest.
	ApprovalSafe ApprovalMode = "safe"
)

// Confirmation describes what a user is asked to approve before a tool
// runs. It lives here, next to ApprovalMode, so both built-in and MCP tools
// can return the same type from their confirmation checks.
type Confirmation struct {
	Title       string
	Description string
}

// ParseApprovalMode validates a mode string from flags or config.
func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch ApprovalMode(s) {
	case ApprovalPrompt, ApprovalAuto, ApprovalSafe:
		return ApprovalMode(s), nil
	}
	return "", errors.New("invalid approval mode '%s'; must be 'prompt', 'auto' or 'safe'", s)
}

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Compaction bounds the conversation history. When the history grows past
// ThresholdMessages, the agent replaces older turns with a model-generated
// summary, keeping the most recent KeepRecent messages verbatim. A zero
// threshold falls back to the default below; a zero KeepRecent keeps only
// the newest user message.
type Compaction struct {
	ThresholdMessages int `yaml:"threshold_messages"`
	KeepRecent        int `yaml:"keep_recent"`
}

const (
	DefaultCompactionThreshold = 60
	DefaultMaxTurns            = 100
)

type Config struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	ApprovalMode         string           `yaml:"approval_mode"`
	MaxTurns             int              `yaml:"max_turns"`
	Compaction           Compaction       `yaml:"compaction"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Default .grok directory to be hidden from the filesystem tools
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, ".grok", ".grok/**")

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".grok", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".grok", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, so project-level
	// config replaces user-level field by field.
	return yaml.Unmarshal(data, cfg)
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. When no toolsets
// are configured at all, a default toolset containing every built-in tool
// is synthesized so the agent works out of the box.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for i := range c.Toolsets {
		if c.Toolsets[i].Name == name {
			return &c.Toolsets[i], nil
		}
	}
	if name == "default" {
		if len(c.Toolsets) == 0 {
			return &Toolset{
				Name:  "default",
				Tools: []string{"read_file", "write_file", "execute_command", "search_files"},
			}, nil
		}
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}

// CompactionThreshold returns the configured history-size trigger, or the
// default when unset.
func (c *Config) CompactionThreshold() int {
	if c.Compaction.ThresholdMessages > 0 {
		return c.Compaction.ThresholdMessages
	}
	return DefaultCompactionThreshold
}

// CompactionKeepRecent returns how many trailing messages survive
// compaction verbatim.
func (c *Config) CompactionKeepRecent() int {
	if c.Compaction.KeepRecent > 0 {
		return c.Compaction.KeepRecent
	}
	return 0
}

// TurnBudget returns the hard cap on model round-trips per user input.
func (c *Config) TurnBudget() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return DefaultMaxTurns
}
