package agent

import (
	"context"
	"io"
	"strings"

	"github.com/alby13/grok-cli/llm"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/telemetry"
	"github.com/alby13/grok-cli/tools"
)

// StreamEventType tags events delivered while a turn's response streams in.
type StreamEventType string

const (
	// EventContentDelta carries one text fragment, in receipt order.
	EventContentDelta StreamEventType = "content_delta"
	// EventToolCallStart fires the first time a call's name becomes
	// non-empty for a response index.
	EventToolCallStart StreamEventType = "tool_call_start"
	// EventToolCallDelta carries one argument fragment for an index.
	EventToolCallDelta StreamEventType = "tool_call_delta"
	// EventToolCallEnd fires at stream end for every call that received a
	// completed id.
	EventToolCallEnd StreamEventType = "tool_call_end"
	// EventError reports a transport failure; it is the last event of a
	// failed turn.
	EventError StreamEventType = "error"
)

// StreamEvent is one event of a turn's stream. Which fields are set depends
// on Type: Text for content deltas and error messages, the Call fields for
// tool-call events.
type StreamEvent struct {
	Type      StreamEventType
	Text      string
	CallIndex int
	CallID    string
	CallName  string
	Arguments string
}

// Turn represents one model round-trip. It is populated while the event
// stream is consumed and immutable once the event channel closes; the
// accessors are only meaningful after that point. The finalized assistant
// message is not appended to history here — that is the conversation
// driver's job, exactly once per turn.
type Turn struct {
	message   session.Message
	pending   []session.ToolCall
	failed    bool
	errText   string
	cancelled bool
}

// Message returns the finalized assistant message.
func (t *Turn) Message() session.Message { return t.message }

// PendingToolCalls returns the tool calls the model requested, in response
// order.
func (t *Turn) PendingToolCalls() []session.ToolCall { return t.pending }

// Failed reports whether the turn ended with a transport error.
func (t *Turn) Failed() bool { return t.failed }

// Err returns the human-readable failure message of a failed turn.
func (t *Turn) Err() string { return t.errText }

// Cancelled reports whether stream consumption stopped on a cancelled
// context. Not an error; the partial turn is discarded by the driver.
func (t *Turn) Cancelled() bool { return t.cancelled }

// Engine drives one model round-trip: it opens a streaming request with the
// current tool schema set attached, converts chunks into ordered events and
// assembles the finalized assistant message.
type Engine struct {
	client  llm.StreamClient
	schemas func() []tools.Schema
}

// NewEngine creates a turn engine. The schema function is evaluated at every
// Run so registry changes are visible immediately rather than cached across
// turns.
func NewEngine(client llm.StreamClient, schemas func() []tools.Schema) *Engine {
	return &Engine{client: client, schemas: schemas}
}

// partialCall accumulates streamed tool-call fragments for one response
// index. The id and name arrive on early fragments; arguments accumulate as
// raw JSON text across fragments.
type partialCall struct {
	id      string
	name    string
	started bool
	args    strings.Builder
}

// Run starts the round-trip and returns the event channel plus the Turn it
// populates. The channel is closed when the stream ends, fails or is
// cancelled; the caller must drain it. History must end with the newest
// user or tool message.
func (e *Engine) Run(ctx context.Context, history []session.Message) (<-chan StreamEvent, *Turn) {
	events := make(chan StreamEvent)
	turn := &Turn{}

	go func() {
		defer close(events)

		stream, err := e.client.StreamChat(ctx, history, e.schemas())
		if err != nil {
			if ctx.Err() != nil {
				turn.cancelled = true
				return
			}
			telemetry.Report(err, "turn: open stream")
			turn.failed = true
			turn.errText = err.Error()
			events <- StreamEvent{Type: EventError, Text: err.Error()}
			return
		}
		defer stream.Close()

		var text strings.Builder
		calls := make(map[int]*partialCall)
		var order []int

		for {
			// A cancelled token stops consumption silently, with no
			// further events.
			if ctx.Err() != nil {
				turn.cancelled = true
				return
			}

			chunk, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					turn.cancelled = true
					return
				}
				telemetry.Report(err, "turn: stream")
				turn.failed = true
				turn.errText = err.Error()
				events <- StreamEvent{Type: EventError, Text: err.Error()}
				return
			}

			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				events <- StreamEvent{Type: EventContentDelta, Text: chunk.Text}
			}

			for _, tc := range chunk.ToolCalls {
				pc, ok := calls[tc.Index]
				if !ok {
					pc = &partialCall{}
					calls[tc.Index] = pc
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					pc.id += tc.ID
				}
				if tc.Name != "" {
					pc.name += tc.Name
				}
				if !pc.started && pc.name != "" {
					pc.started = true
					events <- StreamEvent{
						Type:      EventToolCallStart,
						CallIndex: tc.Index,
						CallID:    pc.id,
						CallName:  pc.name,
					}
				}
				if tc.Arguments != "" {
					pc.args.WriteString(tc.Arguments)
					events <- StreamEvent{
						Type:      EventToolCallDelta,
						CallIndex: tc.Index,
						Arguments: tc.Arguments,
					}
				}
			}
		}

		// Stream end: finalize the assistant message. Calls that never
		// received a completed id are dropped; their fragments cannot be
		// correlated to a result.
		msg := session.Message{Role: session.RoleAssistant, Content: text.String()}
		for _, idx := range order {
			pc := calls[idx]
			if pc.id == "" {
				continue
			}
			call := session.ToolCall{ID: pc.id, Name: pc.name, Arguments: pc.args.String()}
			msg.ToolCalls = append(msg.ToolCalls, call)
			turn.pending = append(turn.pending, call)
			events <- StreamEvent{
				Type:      EventToolCallEnd,
				CallIndex: idx,
				CallID:    call.ID,
				CallName:  call.Name,
				Arguments: call.Arguments,
			}
		}
		turn.message = msg
	}()

	return events, turn
}
