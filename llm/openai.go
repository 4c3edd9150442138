package llm

import (
	"context"
	"io"
	"os"

	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
)

const xaiBaseURL = "https://api.x.ai/v1"

// OpenAIStreamClient is a streaming client for any OpenAI-compatible Chat
// Completions API. This is the primary transport: with XAI_API_KEY set it
// talks to x.ai's Grok endpoint, otherwise OPENAI_API_KEY/OPENAI_BASE_URL
// select the backend.
type OpenAIStreamClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIStreamClient creates a new OpenAIStreamClient from the
// environment. XAI_API_KEY takes precedence and implies the x.ai base URL;
// OPENAI_BASE_URL overrides the endpoint either way.
func NewOpenAIStreamClient(ctx context.Context, modelName string) (*OpenAIStreamClient, error) {
	var opts []option.RequestOption

	if apiKey := os.Getenv("XAI_API_KEY"); apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey), option.WithBaseURL(xaiBaseURL))
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		return nil, errors.New("neither XAI_API_KEY nor OPENAI_API_KEY environment variable is set")
	}

	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	// The v2 SDK returns a value; the pointer is kept so the zero value of
	// this struct stays unusable.
	c := openai.NewClient(opts...)
	return &OpenAIStreamClient{client: &c, model: modelName}, nil
}

// StreamChat opens a streaming chat completion with the current tool schema
// set attached.
func (o *OpenAIStreamClient) StreamChat(ctx context.Context, messages []session.Message, schemas []tools.Schema) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenAI(messages),
		Tools:    convertSchemasToOpenAI(schemas),
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	return &openaiStream{stream: stream}, nil
}

type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) Recv() (*Chunk, error) {
	for s.stream.Next() {
		cur := s.stream.Current()
		if len(cur.Choices) == 0 {
			continue
		}
		delta := cur.Choices[0].Delta

		chunk := &Chunk{Text: delta.Content}
		for _, tc := range delta.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCallChunk{
				Index:     int(tc.Index),
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if chunk.Text == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		return chunk, nil
	}
	if err := s.stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "OpenAI stream failed")
	}
	return nil, io.EOF
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

// convertMessagesToOpenAI converts our internal message format to OpenAI's.
func convertMessagesToOpenAI(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			// Tool-result messages carry exactly one ToolCall identifying
			// the request they answer.
			if len(msg.ToolCalls) != 1 {
				continue
			}
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCalls[0].ID))
		case session.RoleUser:
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertSchemasToOpenAI converts tool schemas to the OpenAI tool format.
func convertSchemasToOpenAI(schemas []tools.Schema) []openai.ChatCompletionToolUnionParam {
	if len(schemas) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, s := range schemas {
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  openai.FunctionParameters(s.Parameters),
		}))
	}
	return openAITools
}
