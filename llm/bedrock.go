package llm

import (
	"context"
	"encoding/json"

	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockStreamClient runs Anthropic models on AWS Bedrock. InvokeModel has
// no incremental delivery, so the response adapts to the stream contract as
// a single chunk carrying the whole message.
type BedrockStreamClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockStreamClient creates a new BedrockStreamClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockStreamClient(ctx context.Context, modelID string) (*BedrockStreamClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	return &BedrockStreamClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// StreamChat invokes the model once and yields the response as one chunk.
func (b *BedrockStreamClient) StreamChat(ctx context.Context, messages []session.Message, schemas []tools.Schema) (Stream, error) {
	body, err := buildBedrockRequest(messages, schemas)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	chunk, err := parseBedrockResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	return &oneShotStream{chunk: chunk}, nil
}

// buildBedrockRequest marshals the history and tool schemas into the
// Anthropic-on-Bedrock request body.
func buildBedrockRequest(messages []session.Message, schemas []tools.Schema) ([]byte, error) {
	var bedrockMessages []map[string]interface{}
	systemPrompt := ""

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			systemPrompt = msg.Content
		case session.RoleUser:
			bedrockMessages = append(bedrockMessages, map[string]interface{}{
				"role":    "user",
				"content": []map[string]interface{}{{"type": "text", "text": msg.Content}},
			})
		case session.RoleAssistant:
			var content []map[string]interface{}
			if msg.Content != "" {
				content = append(content, map[string]interface{}{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = map[string]interface{}{}
				}
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			if len(content) == 0 {
				continue
			}
			bedrockMessages = append(bedrockMessages, map[string]interface{}{
				"role":    "assistant",
				"content": content,
			})
		case session.RoleTool:
			if len(msg.ToolCalls) != 1 {
				continue
			}
			bedrockMessages = append(bedrockMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCalls[0].ID,
					"content":     msg.Content,
				}},
			})
		}
	}

	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          bedrockMessages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if len(schemas) > 0 {
		var toolDefs []map[string]interface{}
		for _, s := range schemas {
			toolDefs = append(toolDefs, map[string]interface{}{
				"name":         s.Name,
				"description":  s.Description,
				"input_schema": s.Parameters,
			})
		}
		request["tools"] = toolDefs
	}

	return json.Marshal(request)
}

// parseBedrockResponse converts the Anthropic-format response body into one
// chunk. Tool-use blocks keep the model-supplied id; indexes follow content
// order.
func parseBedrockResponse(body []byte) (*Chunk, error) {
	var response struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to parse Bedrock response")
	}

	chunk := &Chunk{}
	index := 0
	for _, block := range response.Content {
		switch block.Type {
		case "text":
			chunk.Text += block.Text
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCallChunk{
				Index:     index,
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
			index++
		}
	}
	return chunk, nil
}
