package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiStreamClient is a streaming client for the Google Gemini API.
type GeminiStreamClient struct {
	model *genai.GenerativeModel
}

// NewGeminiStreamClient creates a new GeminiStreamClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiStreamClient(ctx context.Context, modelName string) (*GeminiStreamClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiStreamClient{
		model: client.GenerativeModel(modelName),
	}, nil
}

// StreamChat opens a streaming chat request with the current tool schema set
// attached.
func (g *GeminiStreamClient) StreamChat(ctx context.Context, messages []session.Message, schemas []tools.Schema) (Stream, error) {
	history := convertMessagesToGemini(messages)
	if len(history) == 0 {
		return nil, errors.New("cannot start a Gemini chat with an empty history")
	}

	g.model.Tools = convertSchemasToGemini(schemas)

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := g.model.StartChat()
	chatSession.History = history[:len(history)-1]
	iter := chatSession.SendMessageStream(ctx, lastMessage.Parts...)
	return &geminiStream{iter: iter}, nil
}

// geminiStream adapts the genai response iterator. Gemini delivers function
// calls whole rather than as argument fragments, and assigns them no ids, so
// each call becomes a single complete tool-call chunk with a locally
// synthesized correlation id. Indexes are assigned in arrival order.
type geminiStream struct {
	iter      *genai.GenerateContentResponseIterator
	nextIndex int
}

func (s *geminiStream) Recv() (*Chunk, error) {
	for {
		resp, err := s.iter.Next()
		if err == iterator.Done {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Gemini stream failed")
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}

		chunk := &Chunk{}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				chunk.Text += string(v)
			case genai.FunctionCall:
				args, err := json.Marshal(v.Args)
				if err != nil {
					args = []byte("{}")
				}
				chunk.ToolCalls = append(chunk.ToolCalls, ToolCallChunk{
					Index:     s.nextIndex,
					ID:        fmt.Sprintf("call-%s", uuid.NewString()),
					Name:      v.Name,
					Arguments: string(args),
				})
				s.nextIndex++
			}
		}
		if chunk.Text == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		return chunk, nil
	}
}

func (s *geminiStream) Close() error { return nil }

// convertMessagesToGemini converts our internal message format to Gemini's.
// Tool results travel back as FunctionResponse parts in user-role content.
func convertMessagesToGemini(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			parts := []genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]interface{}{}
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case session.RoleTool:
			if len(msg.ToolCalls) != 1 {
				continue
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     msg.ToolCalls[0].Name,
					Response: map[string]interface{}{"result": msg.Content},
				}},
			})
		default:
			// System and user messages both travel as user-role text;
			// Gemini has no separate system role in chat history.
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	return contents
}

// convertSchemasToGemini converts tool schemas to Gemini's
// FunctionDeclaration format.
func convertSchemasToGemini(schemas []tools.Schema) []*genai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, s := range schemas {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  schemaMapToGenai(s.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// schemaMapToGenai translates the common subset of a JSON schema map into a
// genai.Schema. Unknown constructs degrade to a generic object.
func schemaMapToGenai(m map[string]interface{}) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	s := &genai.Schema{}
	switch m["type"] {
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
		if items, ok := m["items"].(map[string]interface{}); ok {
			s.Items = schemaMapToGenai(items)
		}
	default:
		s.Type = genai.TypeObject
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]interface{}); ok {
				s.Properties[name] = schemaMapToGenai(subMap)
			}
		}
	}
	if req, ok := m["required"].([]interface{}); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}
