package llm

import (
	"testing"

	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessagesToGemini(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleSystem, Content: "be terse"},
		{Role: session.RoleUser, Content: "read main.go"},
		{Role: session.RoleAssistant, Content: "On it.", ToolCalls: []session.ToolCall{
			{ID: "call-abc", Name: "read_file", Arguments: `{"path":"main.go"}`},
		}},
		{Role: session.RoleTool, Content: "package main", ToolCalls: []session.ToolCall{
			{ID: "call-abc", Name: "read_file"},
		}},
	}

	contents := convertMessagesToGemini(messages)
	require.Len(t, contents, 4)

	assert.Equal(t, "user", contents[0].Role, "system prompts travel as user text")
	assert.Equal(t, "user", contents[1].Role)

	model := contents[2]
	assert.Equal(t, "model", model.Role)
	require.Len(t, model.Parts, 2)
	assert.Equal(t, genai.Text("On it."), model.Parts[0])
	fc, ok := model.Parts[1].(genai.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "read_file", fc.Name)
	assert.Equal(t, "main.go", fc.Args["path"])

	result := contents[3]
	assert.Equal(t, "user", result.Role)
	fr, ok := result.Parts[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "read_file", fr.Name)
	assert.Equal(t, "package main", fr.Response["result"])
}

func TestSchemaMapToGenai(t *testing.T) {
	schema := map[string]interface{}{
		"type":        "object",
		"description": "args",
		"properties": map[string]interface{}{
			"path":  map[string]interface{}{"type": "string", "description": "file path"},
			"count": map[string]interface{}{"type": "integer"},
			"tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []interface{}{"path"},
	}

	s := schemaMapToGenai(schema)
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, "args", s.Description)
	require.Contains(t, s.Properties, "path")
	assert.Equal(t, genai.TypeString, s.Properties["path"].Type)
	assert.Equal(t, "file path", s.Properties["path"].Description)
	assert.Equal(t, genai.TypeInteger, s.Properties["count"].Type)
	assert.Equal(t, genai.TypeArray, s.Properties["tags"].Type)
	require.NotNil(t, s.Properties["tags"].Items)
	assert.Equal(t, genai.TypeString, s.Properties["tags"].Items.Type)
	assert.Equal(t, []string{"path"}, s.Required)
}

func TestSchemaMapToGenaiNil(t *testing.T) {
	s := schemaMapToGenai(nil)
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Empty(t, s.Properties)
}

func TestConvertSchemasToGeminiEmpty(t *testing.T) {
	assert.Nil(t, convertSchemasToGemini(nil))

	ts := convertSchemasToGemini([]tools.Schema{{Name: "echo", Description: "echoes"}})
	require.Len(t, ts, 1)
	require.Len(t, ts[0].FunctionDeclarations, 1)
	assert.Equal(t, "echo", ts[0].FunctionDeclarations[0].Name)
}
