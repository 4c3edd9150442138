package llm

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicStreamClient is a streaming client for the Anthropic API.
type AnthropicStreamClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicStreamClient creates a new AnthropicStreamClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicStreamClient(ctx context.Context, modelName string) (*AnthropicStreamClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicStreamClient{
		client: &client,
		model:  modelName,
	}, nil
}

// StreamChat opens a streaming message request with the current tool schema
// set attached.
func (a *AnthropicStreamClient) StreamChat(ctx context.Context, messages []session.Message, schemas []tools.Schema) (Stream, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropic(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	for _, s := range schemas {
		properties := s.Parameters["properties"]
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: properties},
		}})
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{stream: stream}, nil
}

// anthropicStream maps Anthropic's event stream onto the chunk contract.
// Content-block indexes double as tool-call indexes: a tool_use block start
// carries the call's id and name, and input_json_delta events at the same
// index carry the argument fragments.
type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Recv() (*Chunk, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				return &Chunk{ToolCalls: []ToolCallChunk{{
					Index: int(ev.Index),
					ID:    block.ID,
					Name:  block.Name,
				}}}, nil
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					return &Chunk{Text: delta.Text}, nil
				}
			case anthropic.InputJSONDelta:
				if delta.PartialJSON != "" {
					return &Chunk{ToolCalls: []ToolCallChunk{{
						Index:     int(ev.Index),
						Arguments: delta.PartialJSON,
					}}}, nil
				}
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "Anthropic stream failed")
	}
	return nil, io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

// convertMessagesToAnthropic converts our internal message format to
// Anthropic's format, splitting out the system prompt.
func convertMessagesToAnthropic(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case session.RoleAssistant:
			var contentItems []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: msg.Content},
				})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == "" {
					input = "{}"
				}
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(input),
					}})
			}
			if len(contentItems) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: contentItems,
			})
		case session.RoleTool:
			if len(msg.ToolCalls) != 1 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: msg.ToolCalls[0].ID,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: msg.Content},
						}},
					},
				}},
			})
		case session.RoleSystem:
			// The last system message wins as the system prompt.
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}
