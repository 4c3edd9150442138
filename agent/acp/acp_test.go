package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alby13/grok-cli/agent"
	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/llm"
	"github.com/alby13/grok-cli/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newACPAgent(t *testing.T, client llm.StreamClient) *agent.Agent {
	t.Helper()
	t.Chdir(t.TempDir())

	sess, err := session.New("acp-test")
	require.NoError(t, err)

	a, err := agent.New(&config.Config{}, sess, "default", config.ApprovalAuto, client, agent.ToolVerbosityNone, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

// runRequests feeds newline-delimited JSON-RPC requests through Run and
// returns every line written to stdout.
func runRequests(t *testing.T, a *agent.Agent, requests ...string) []string {
	t.Helper()
	var stdin, stdout bytes.Buffer
	for _, req := range requests {
		stdin.WriteString(req + "\n")
	}

	err := Run(context.Background(), a, bufio.NewReader(&stdin), bufio.NewWriter(&stdout), false)
	require.NoError(t, err)

	var lines []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestInitialize(t *testing.T) {
	a := newACPAgent(t, &llm.MockStreamClient{})

	lines := runRequests(t, a,
		`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":1}}`)

	require.Len(t, lines, 1)
	var resp struct {
		ID     int `json:"id"`
		Result struct {
			ProtocolVersion int `json:"protocolVersion"`
			AgentCaps       struct {
				LoadSession bool `json:"loadSession"`
			} `json:"agentCapabilities"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	assert.Equal(t, 0, resp.ID)
	assert.Equal(t, 1, resp.Result.ProtocolVersion)
	assert.True(t, resp.Result.AgentCaps.LoadSession)
}

func TestUnknownMethod(t *testing.T) {
	a := newACPAgent(t, &llm.MockStreamClient{})

	lines := runRequests(t, a, `{"jsonrpc":"2.0","id":5,"method":"session/fly"}`)

	require.Len(t, lines, 1)
	var resp struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestSessionPromptFlow(t *testing.T) {
	client := &llm.MockStreamClient{Responses: []llm.Chunk{
		{Text: "Hello from the model."},
		{Text: "not json"},
	}}
	a := newACPAgent(t, client)

	// First create a session to learn its ID, persisted under .grok/.
	lines := runRequests(t, a, `{"jsonrpc":"2.0","id":1,"method":"session/new","params":{"cwd":"."}}`)
	var newResp struct {
		Result struct {
			SessionID string `json:"sessionId"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &newResp))
	sid := newResp.Result.SessionID

	// A second Run instance loads the persisted session and prompts it.
	lines = runRequests(t, a,
		`{"jsonrpc":"2.0","id":2,"method":"session/load","params":{"sessionId":"`+sid+`"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"`+sid+`","prompt":[{"type":"text","text":"hi"}]}}`,
	)

	var sawChunk, sawEndTurn bool
	for _, line := range lines {
		var msg struct {
			Method string `json:"method"`
			Params struct {
				Update struct {
					SessionUpdate string `json:"sessionUpdate"`
					Content       struct {
						Text string `json:"text"`
					} `json:"content"`
				} `json:"update"`
			} `json:"params"`
			Result struct {
				StopReason string `json:"stopReason"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		if msg.Method == "session/update" && msg.Params.Update.SessionUpdate == "agent_message_chunk" {
			if msg.Params.Update.Content.Text == "Hello from the model." {
				sawChunk = true
			}
		}
		if msg.Result.StopReason == "end_turn" {
			sawEndTurn = true
		}
	}
	assert.True(t, sawChunk, "the assistant text must stream as an agent_message_chunk")
	assert.True(t, sawEndTurn, "the prompt response must carry stopReason end_turn")
}

func TestArgsOrEmpty(t *testing.T) {
	assert.Equal(t, "{}", argsOrEmpty(""))
	assert.Equal(t, "{}", argsOrEmpty("   "))
	assert.Equal(t, `{"a":1}`, argsOrEmpty(`{"a":1}`))
	assert.Equal(t, `"{broken"`, argsOrEmpty(`{broken`), "invalid JSON is quoted rather than emitted raw")
}

func TestExtractUserText(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(file, []byte("file body"), 0644))

	t.Run("text only", func(t *testing.T) {
		got := extractUserText([]contentBlock{
			{Type: "text", Text: "Hello"},
			{Type: "text", Text: "World"},
			{Type: "text", Text: "   "},
		})
		assert.Equal(t, "Hello\nWorld", got)
	})

	t.Run("file resource link", func(t *testing.T) {
		got := extractUserText([]contentBlock{
			{Type: "text", Text: "Check this:"},
			{Type: "resource_link", URI: "file://" + file, Name: "test.txt", Title: "Test"},
		})
		assert.Contains(t, got, "Check this:")
		assert.Contains(t, got, "=== Resource: test.txt ===")
		assert.Contains(t, got, "Title: Test")
		assert.Contains(t, got, "file body")
	})

	t.Run("remote resource link", func(t *testing.T) {
		got := extractUserText([]contentBlock{
			{Type: "resource_link", URI: "https://example.com/a.txt", Name: "a.txt"},
		})
		assert.Contains(t, got, "[External resource - content not available]")
	})
}
