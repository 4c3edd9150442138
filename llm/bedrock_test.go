package llm

import (
	"encoding/json"
	"testing"

	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBedrockRequest(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleSystem, Content: "be terse"},
		{Role: session.RoleUser, Content: "read main.go"},
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{
			{ID: "call_1", Name: "read_file", Arguments: `{"path":"main.go"}`},
		}},
		{Role: session.RoleTool, Content: "package main", ToolCalls: []session.ToolCall{
			{ID: "call_1", Name: "read_file"},
		}},
	}
	schemas := []tools.Schema{{
		Name:        "read_file",
		Description: "reads a file",
		Parameters:  map[string]interface{}{"type": "object"},
	}}

	body, err := buildBedrockRequest(messages, schemas)
	require.NoError(t, err)

	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &req))

	assert.Equal(t, "bedrock-2023-05-31", req["anthropic_version"])
	assert.Equal(t, "be terse", req["system"])

	msgs, ok := req["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 3, "the system message moves to the top-level field")

	assistant := msgs[1].(map[string]interface{})
	assert.Equal(t, "assistant", assistant["role"])
	content := assistant["content"].([]interface{})
	require.Len(t, content, 1)
	toolUse := content[0].(map[string]interface{})
	assert.Equal(t, "tool_use", toolUse["type"])
	assert.Equal(t, "call_1", toolUse["id"])
	assert.Equal(t, map[string]interface{}{"path": "main.go"}, toolUse["input"])

	toolResult := msgs[2].(map[string]interface{})
	assert.Equal(t, "user", toolResult["role"], "tool results travel as user messages")
	result := toolResult["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "call_1", result["tool_use_id"])

	toolDefs, ok := req["tools"].([]interface{})
	require.True(t, ok)
	require.Len(t, toolDefs, 1)
	assert.Equal(t, "read_file", toolDefs[0].(map[string]interface{})["name"])
}

func TestBuildBedrockRequestMalformedToolArgs(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{
			{ID: "call_1", Name: "echo", Arguments: `{broken`},
		}},
	}

	body, err := buildBedrockRequest(messages, nil)
	require.NoError(t, err)

	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &req))
	content := req["messages"].([]interface{})[0].(map[string]interface{})["content"].([]interface{})
	input := content[0].(map[string]interface{})["input"]
	assert.Equal(t, map[string]interface{}{}, input, "unparseable history args degrade to an empty object")
}

func TestParseBedrockResponse(t *testing.T) {
	body := []byte(`{
		"content": [
			{"type": "text", "text": "Let me check. "},
			{"type": "tool_use", "id": "call_1", "name": "read_file", "input": {"path": "go.mod"}},
			{"type": "tool_use", "id": "call_2", "name": "search_files"}
		]
	}`)

	chunk, err := parseBedrockResponse(body)
	require.NoError(t, err)

	assert.Equal(t, "Let me check. ", chunk.Text)
	require.Len(t, chunk.ToolCalls, 2)
	assert.Equal(t, 0, chunk.ToolCalls[0].Index)
	assert.Equal(t, "call_1", chunk.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"go.mod"}`, chunk.ToolCalls[0].Arguments)
	assert.Equal(t, 1, chunk.ToolCalls[1].Index)
	assert.Equal(t, "{}", chunk.ToolCalls[1].Arguments, "absent input still yields valid JSON")
}

func TestParseBedrockResponseInvalid(t *testing.T) {
	_, err := parseBedrockResponse([]byte("not json"))
	require.Error(t, err)
}
