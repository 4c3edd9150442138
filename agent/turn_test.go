package agent

import (
	"context"
	"io"
	"testing"

	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/llm"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStream replays a fixed chunk sequence, optionally ending with an
// error instead of io.EOF.
type scriptedStream struct {
	chunks []llm.Chunk
	errAt  error
	pos    int
}

func (s *scriptedStream) Recv() (*llm.Chunk, error) {
	if s.pos >= len(s.chunks) {
		if s.errAt != nil {
			return nil, s.errAt
		}
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return &chunk, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedClient struct {
	stream  *scriptedStream
	openErr error
}

func (c *scriptedClient) StreamChat(ctx context.Context, messages []session.Message, schemas []tools.Schema) (llm.Stream, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.stream, nil
}

func runTurn(t *testing.T, ctx context.Context, client llm.StreamClient) ([]StreamEvent, *Turn) {
	t.Helper()
	engine := NewEngine(client, func() []tools.Schema { return nil })
	events, turn := engine.Run(ctx, []session.Message{{Role: session.RoleUser, Content: "go"}})
	var collected []StreamEvent
	for ev := range events {
		collected = append(collected, ev)
	}
	return collected, turn
}

func TestTurnTextOnly(t *testing.T) {
	client := &scriptedClient{stream: &scriptedStream{chunks: []llm.Chunk{
		{Text: "Hel"},
		{Text: "lo"},
	}}}

	events, turn := runTurn(t, context.Background(), client)

	require.Len(t, events, 2)
	assert.Equal(t, EventContentDelta, events[0].Type)
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, "lo", events[1].Text)

	assert.False(t, turn.Failed())
	assert.False(t, turn.Cancelled())
	assert.Equal(t, session.RoleAssistant, turn.Message().Role)
	assert.Equal(t, "Hello", turn.Message().Content)
	assert.Empty(t, turn.PendingToolCalls())
}

func TestTurnToolCallFragmentAccumulation(t *testing.T) {
	client := &scriptedClient{stream: &scriptedStream{chunks: []llm.Chunk{
		{Text: "Working on it. ", ToolCalls: []llm.ToolCallChunk{
			{Index: 0, ID: "call_1", Name: "read_file"},
		}},
		{ToolCalls: []llm.ToolCallChunk{
			{Index: 0, Arguments: `{"path":`},
			{Index: 1, ID: "call_2", Name: "search_files", Arguments: `{"pattern":"*.go"}`},
		}},
		{ToolCalls: []llm.ToolCallChunk{
			{Index: 0, Arguments: `"main.go"}`},
		}},
	}}}

	events, turn := runTurn(t, context.Background(), client)

	var starts, deltas, ends []StreamEvent
	for _, ev := range events {
		switch ev.Type {
		case EventToolCallStart:
			starts = append(starts, ev)
		case EventToolCallDelta:
			deltas = append(deltas, ev)
		case EventToolCallEnd:
			ends = append(ends, ev)
		}
	}

	require.Len(t, starts, 2)
	assert.Equal(t, "call_1", starts[0].CallID)
	assert.Equal(t, "read_file", starts[0].CallName)
	assert.Equal(t, "call_2", starts[1].CallID)
	require.Len(t, deltas, 3)

	require.Len(t, ends, 2)
	assert.Equal(t, `{"path":"main.go"}`, ends[0].Arguments)
	assert.Equal(t, `{"pattern":"*.go"}`, ends[1].Arguments)

	pending := turn.PendingToolCalls()
	require.Len(t, pending, 2)
	assert.Equal(t, "call_1", pending[0].ID)
	assert.Equal(t, `{"path":"main.go"}`, pending[0].Arguments)
	assert.Equal(t, "call_2", pending[1].ID)

	msg := turn.Message()
	assert.Equal(t, "Working on it. ", msg.Content)
	assert.Equal(t, pending, msg.ToolCalls)
}

func TestTurnDropsCallsWithoutID(t *testing.T) {
	client := &scriptedClient{stream: &scriptedStream{chunks: []llm.Chunk{
		{Text: "Hello"},
		{ToolCalls: []llm.ToolCallChunk{
			{Index: 0, Name: "read_file", Arguments: `{"path":"x"}`},
		}},
	}}}

	events, turn := runTurn(t, context.Background(), client)

	for _, ev := range events {
		assert.NotEqual(t, EventToolCallEnd, ev.Type, "a call without an id must not finalize")
	}
	assert.Empty(t, turn.PendingToolCalls())
	assert.Empty(t, turn.Message().ToolCalls)
	assert.Equal(t, "Hello", turn.Message().Content)
	assert.False(t, turn.Failed())
}

func TestTurnStreamError(t *testing.T) {
	client := &scriptedClient{stream: &scriptedStream{
		chunks: []llm.Chunk{{Text: "partial"}},
		errAt:  errors.New("connection reset"),
	}}

	events, turn := runTurn(t, context.Background(), client)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Text, "connection reset")
	assert.True(t, turn.Failed())
	assert.Contains(t, turn.Err(), "connection reset")
}

func TestTurnOpenError(t *testing.T) {
	client := &scriptedClient{openErr: errors.New("no api key")}

	events, turn := runTurn(t, context.Background(), client)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.True(t, turn.Failed())
}

func TestTurnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{stream: &scriptedStream{chunks: []llm.Chunk{{Text: "never"}}}}

	events, turn := runTurn(t, ctx, client)

	assert.Empty(t, events, "cancellation is silent, not an error event")
	assert.True(t, turn.Cancelled())
	assert.False(t, turn.Failed())
}
