package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseApprovalMode(t *testing.T) {
	for _, valid := range []string{"prompt", "auto", "safe"} {
		mode, err := ParseApprovalMode(valid)
		require.NoError(t, err)
		assert.Equal(t, ApprovalMode(valid), mode)
	}

	_, err := ParseApprovalMode("yolo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid approval mode")
}

func TestLoadConfigProjectOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", filepath.Join(dir, "no-such-home"))

	require.NoError(t, os.MkdirAll(".grok", 0755))
	projectYAML := `
llm: xai
model: grok-4
approval_mode: safe
max_turns: 7
compaction:
  threshold_messages: 20
  keep_recent: 5
allowed_commands:
  - "^go (build|test)"
toolsets:
  - name: default
    tools: [read_file, search_files]
`
	require.NoError(t, os.WriteFile(filepath.Join(".grok", "config.yaml"), []byte(projectYAML), 0644))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "xai", cfg.LLMClient)
	assert.Equal(t, "grok-4", cfg.Model)
	assert.Equal(t, "safe", cfg.ApprovalMode)
	assert.Equal(t, 7, cfg.TurnBudget())
	assert.Equal(t, 20, cfg.CompactionThreshold())
	assert.Equal(t, 5, cfg.CompactionKeepRecent())
	assert.Contains(t, cfg.FilesystemAccess.Hidden, ".grok", "the state directory is always hidden")

	ts, err := cfg.GetToolset("default")
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file", "search_files"}, ts.Tools)
}

func TestLoadConfigNoFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", filepath.Join(dir, "no-such-home"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "", cfg.LLMClient)
	assert.Equal(t, DefaultMaxTurns, cfg.TurnBudget())
	assert.Equal(t, DefaultCompactionThreshold, cfg.CompactionThreshold())
}

func TestGetToolsetSynthesizedDefault(t *testing.T) {
	cfg := &Config{}

	ts, err := cfg.GetToolset("")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)
	assert.Equal(t, []string{"read_file", "write_file", "execute_command", "search_files"}, ts.Tools)
}

func TestGetToolsetFallback(t *testing.T) {
	cfg := &Config{Toolsets: []Toolset{
		{Name: "default", Tools: []string{"read_file"}},
		{Name: "shell", Tools: []string{"execute_command"}},
	}}

	ts, err := cfg.GetToolset("shell")
	require.NoError(t, err)
	assert.Equal(t, "shell", ts.Name)

	// An unknown name falls back to the configured default.
	ts, err = cfg.GetToolset("nope")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)
}

func TestGetToolsetMissingDefault(t *testing.T) {
	cfg := &Config{Toolsets: []Toolset{{Name: "shell", Tools: []string{"execute_command"}}}}

	_, err := cfg.GetToolset("default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'default' toolset not found")
}
