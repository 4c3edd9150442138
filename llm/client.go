// Package llm abstracts the model transports. Every provider client exposes
// the same streaming contract: a single-pass sequence of chunks carrying
// text fragments and/or indexed tool-call fragments. Providers that cannot
// stream (Bedrock InvokeModel) adapt by yielding one chunk with the whole
// response.
package llm

import (
	"context"
	"io"

	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
)

// ToolCallChunk is a fragment of a tool call in progress. Fragments are
// correlated by the zero-based Index within the response, not by the final
// call ID: the ID and Name typically arrive on the first fragment and the
// Arguments string accumulates across fragments.
type ToolCallChunk struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one streamed piece of a model response. Either field may be
// empty; a chunk carrying neither is not delivered.
type Chunk struct {
	Text      string
	ToolCalls []ToolCallChunk
}

// Stream is a single-pass chunk sequence. Recv returns io.EOF when the
// response is complete and any other error on transport failure. Close
// releases the underlying connection and is safe to call at any point.
type Stream interface {
	Recv() (*Chunk, error)
	Close() error
}

// StreamClient is the interface for interacting with a Large Language Model.
// The returned stream must deliver chunks in receipt order.
type StreamClient interface {
	StreamChat(ctx context.Context, messages []session.Message, schemas []tools.Schema) (Stream, error)
}

// CollectText runs one completion without tools and concatenates the text
// fragments. Used for auxiliary model calls (history summarization, the
// next-speaker check) where streaming granularity does not matter.
func CollectText(ctx context.Context, c StreamClient, messages []session.Message) (string, error) {
	stream, err := c.StreamChat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	text := ""
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return text, nil
		}
		if err != nil {
			return "", err
		}
		text += chunk.Text
	}
}

// MockStreamClient replays scripted responses, one per StreamChat call, for
// tests and the fallback "no provider configured" mode. When the script is
// exhausted it parrots the last user message.
type MockStreamClient struct {
	Responses []Chunk
	calls     int
}

func (m *MockStreamClient) StreamChat(ctx context.Context, messages []session.Message, schemas []tools.Schema) (Stream, error) {
	if m.calls < len(m.Responses) {
		chunk := m.Responses[m.calls]
		m.calls++
		return &oneShotStream{chunk: &chunk}, nil
	}
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return &oneShotStream{chunk: &Chunk{Text: "I am a mock model. You said: '" + last + "'."}}, nil
}

// oneShotStream yields a single chunk and then io.EOF. Shared by the mock
// client and the Bedrock adapter.
type oneShotStream struct {
	chunk *Chunk
	done  bool
}

func (s *oneShotStream) Recv() (*Chunk, error) {
	if s.done || s.chunk == nil {
		return nil, io.EOF
	}
	s.done = true
	return s.chunk, nil
}

func (s *oneShotStream) Close() error { return nil }
