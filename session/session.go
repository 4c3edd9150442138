package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Role values used in Message. The history is an ordered sequence of these;
// the agent package is the only writer.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model, or the correlation
// half of a tool-result message. The ID is an opaque token supplied by the
// model; it is never generated locally. Arguments is the raw JSON-encoded
// argument string exactly as streamed — parsing it is the scheduler's job,
// so a malformed payload stays attached to its call instead of failing the
// whole message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one role-tagged entry of the conversation history.
//
// Assistant messages may carry ToolCalls requested by the model. Tool
// messages carry exactly one ToolCall identifying which request the Content
// is the result of.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Session is a named, persisted conversation plus the flags it was started
// with, so a resumed session behaves like the original run.
type Session struct {
	Name          string    `json:"name"`
	Messages      []Message `json:"messages"`
	ApprovalMode  string    `json:"approval_mode,omitempty"`
	Toolset       string    `json:"toolset,omitempty"`
	ToolVerbosity string    `json:"tool_verbosity,omitempty"`
	Acp           bool      `json:"acp,omitempty"`
	path          string
}

// New creates a new session.
func New(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{
		Name:     name,
		Messages: []Message{},
		path:     path,
	}, nil
}

// Load loads an existing session from disk.
func Load(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// ReplaceMessages swaps the entire history, used by compaction. The previous
// messages are returned so a caller can restore them if a follow-up step
// fails.
func (s *Session) ReplaceMessages(msgs []Message) []Message {
	old := s.Messages
	s.Messages = msgs
	return old
}

func sessionPath(name string) (string, error) {
	sessionDir := filepath.Join(".grok", "sessions")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(sessionDir, fmt.Sprintf("%s.json", name)), nil
}
