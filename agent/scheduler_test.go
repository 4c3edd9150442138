package agent

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a scriptable tool for scheduler tests. It counts executions so
// tests can assert a tool was, or was not, invoked.
type fakeTool struct {
	name     string
	execute  func(ctx context.Context, args map[string]interface{}) (string, error)
	executed atomic.Int32
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool " + f.name }

func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	f.executed.Add(1)
	if f.execute != nil {
		return f.execute(ctx, args)
	}
	return "ok", nil
}

// confirmTool is a fakeTool that always asks for confirmation unless the
// mode is auto.
type confirmTool struct {
	fakeTool
}

func (f *confirmTool) RequiresConfirmation(args map[string]interface{}, mode config.ApprovalMode) *tools.Confirmation {
	if mode == config.ApprovalAuto {
		return nil
	}
	return &tools.Confirmation{Title: "Run " + f.name, Description: f.name + " wants to run"}
}

// fakeEditor returns a fixed replacement argument map.
type fakeEditor struct {
	replacement map[string]interface{}
	err         error
}

func (e *fakeEditor) Modify(args map[string]interface{}) (map[string]interface{}, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.replacement, nil
}

type schedulerHarness struct {
	scheduler *Scheduler
	results   [][]session.Message
}

func newSchedulerHarness(t *testing.T, mode config.ApprovalMode, editor Editor, toolset ...tools.Tool) *schedulerHarness {
	t.Helper()
	h := &schedulerHarness{}
	lookup := func(name string) (tools.Tool, bool) {
		for _, tool := range toolset {
			if tool.Name() == name {
				return tool, true
			}
		}
		return nil, false
	}
	h.scheduler = NewScheduler(SchedulerConfig{
		Lookup: lookup,
		Mode:   func() config.ApprovalMode { return mode },
		Editor: editor,
		OnComplete: func(results []session.Message) {
			h.results = append(h.results, results)
		},
	})
	return h
}

func TestScheduleEmptyBatch(t *testing.T) {
	h := newSchedulerHarness(t, config.ApprovalAuto, nil)

	err := h.scheduler.Schedule(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, h.results, "an empty batch must not trigger completion")
}

func TestScheduleOrderedResults(t *testing.T) {
	echo := &fakeTool{name: "echo", execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
		text, _ := args["text"].(string)
		return text, nil
	}}
	h := newSchedulerHarness(t, config.ApprovalAuto, nil, echo)

	requests := []session.ToolCall{
		{ID: "1", Name: "echo", Arguments: `{"text":"first"}`},
		{ID: "2", Name: "echo", Arguments: `{"text":"second"}`},
		{ID: "3", Name: "echo", Arguments: `{"text":"third"}`},
	}
	require.NoError(t, h.scheduler.Schedule(context.Background(), requests))

	require.Len(t, h.results, 1, "completion must fire exactly once")
	results := h.results[0]
	require.Len(t, results, 3)
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, session.RoleTool, results[i].Role)
		assert.Equal(t, want, results[i].Content)
		require.Len(t, results[i].ToolCalls, 1)
		assert.Equal(t, requests[i].ID, results[i].ToolCalls[0].ID)
		assert.Equal(t, "echo", results[i].ToolCalls[0].Name)
	}
	assert.Equal(t, int32(3), echo.executed.Load())
}

func TestScheduleMalformedArguments(t *testing.T) {
	echo := &fakeTool{name: "echo"}
	h := newSchedulerHarness(t, config.ApprovalAuto, nil, echo)

	raw := `{"text": "unterminated`
	requests := []session.ToolCall{{ID: "1", Name: "echo", Arguments: raw}}
	require.NoError(t, h.scheduler.Schedule(context.Background(), requests))

	require.Len(t, h.results, 1)
	require.Len(t, h.results[0], 1)
	result := h.results[0][0]
	assert.Contains(t, result.Content, "could not parse arguments")
	assert.Contains(t, result.Content, raw, "the raw argument text must be embedded for the model to see")
	assert.Equal(t, int32(0), echo.executed.Load(), "a call with malformed arguments must never execute")
}

func TestScheduleEmptyArgumentsIsValid(t *testing.T) {
	var gotArgs map[string]interface{}
	tool := &fakeTool{name: "ping", execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
		gotArgs = args
		return "pong", nil
	}}
	h := newSchedulerHarness(t, config.ApprovalAuto, nil, tool)

	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{{ID: "1", Name: "ping"}}))

	require.Len(t, h.results, 1)
	assert.Equal(t, "pong", h.results[0][0].Content)
	assert.NotNil(t, gotArgs)
	assert.Empty(t, gotArgs)
}

func TestScheduleUnknownTool(t *testing.T) {
	h := newSchedulerHarness(t, config.ApprovalAuto, nil)

	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "1", Name: "no_such_tool", Arguments: `{}`},
	}))

	require.Len(t, h.results, 1)
	assert.Contains(t, h.results[0][0].Content, "not found")
}

func TestScheduleBusy(t *testing.T) {
	blocker := &confirmTool{fakeTool{name: "blocker"}}
	h := newSchedulerHarness(t, config.ApprovalPrompt, nil, blocker)

	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "1", Name: "blocker", Arguments: `{}`},
	}))
	awaiting := h.scheduler.AwaitingApproval()
	require.Len(t, awaiting, 1)

	err := h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "2", Name: "blocker", Arguments: `{}`},
	})
	require.ErrorIs(t, err, ErrSchedulerBusy)

	// The active batch must be untouched by the rejected Schedule.
	awaiting = h.scheduler.AwaitingApproval()
	require.Len(t, awaiting, 1)
	assert.Equal(t, "1", awaiting[0].Request.ID)
	assert.Empty(t, h.results)

	require.NoError(t, h.scheduler.HandleConfirmation(context.Background(), "1", OutcomeApprove))
	require.Len(t, h.results, 1)
	assert.Equal(t, int32(1), blocker.executed.Load())
}

func TestHandleConfirmationReject(t *testing.T) {
	guarded := &confirmTool{fakeTool{name: "guarded"}}
	h := newSchedulerHarness(t, config.ApprovalPrompt, nil, guarded)

	// One rejectable call plus one unknown tool: both must settle without
	// executing anything, and the batch must preserve request order.
	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "1", Name: "guarded", Arguments: `{}`},
		{ID: "2", Name: "missing", Arguments: `{}`},
	}))
	require.NoError(t, h.scheduler.HandleConfirmation(context.Background(), "1", OutcomeReject))

	require.Len(t, h.results, 1)
	results := h.results[0]
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "declined")
	assert.Equal(t, "1", results[0].ToolCalls[0].ID)
	assert.Contains(t, results[1].Content, "not found")
	assert.Equal(t, "2", results[1].ToolCalls[0].ID)
	assert.Equal(t, int32(0), guarded.executed.Load())
}

func TestHandleConfirmationUnknownID(t *testing.T) {
	guarded := &confirmTool{fakeTool{name: "guarded"}}
	h := newSchedulerHarness(t, config.ApprovalPrompt, nil, guarded)

	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "1", Name: "guarded", Arguments: `{}`},
	}))
	err := h.scheduler.HandleConfirmation(context.Background(), "nope", OutcomeApprove)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "awaiting approval")
}

func TestApproveAlwaysIsRemembered(t *testing.T) {
	guarded := &confirmTool{fakeTool{name: "guarded"}}
	h := newSchedulerHarness(t, config.ApprovalPrompt, nil, guarded)

	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "1", Name: "guarded", Arguments: `{}`},
	}))
	require.NoError(t, h.scheduler.HandleConfirmation(context.Background(), "1", OutcomeApproveAlways))
	require.Len(t, h.results, 1)

	// The second batch with the same tool must not await approval.
	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "2", Name: "guarded", Arguments: `{}`},
	}))
	assert.Empty(t, h.scheduler.AwaitingApproval())
	require.Len(t, h.results, 2)
	assert.Equal(t, int32(2), guarded.executed.Load())
}

func TestModifyOutcomeUsesEditor(t *testing.T) {
	var gotArgs map[string]interface{}
	guarded := &confirmTool{fakeTool{name: "guarded", execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
		gotArgs = args
		return "ran", nil
	}}}
	editor := &fakeEditor{replacement: map[string]interface{}{"text": "edited"}}
	h := newSchedulerHarness(t, config.ApprovalPrompt, editor, guarded)

	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "1", Name: "guarded", Arguments: `{"text":"original"}`},
	}))
	require.NoError(t, h.scheduler.HandleConfirmation(context.Background(), "1", OutcomeModify))

	require.Len(t, h.results, 1)
	assert.Equal(t, "ran", h.results[0][0].Content)
	assert.Equal(t, "edited", gotArgs["text"])
}

func TestCancelledContextSkipsExecution(t *testing.T) {
	tool := &fakeTool{name: "echo"}
	h := newSchedulerHarness(t, config.ApprovalAuto, nil, tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.scheduler.Schedule(ctx, []session.ToolCall{
		{ID: "1", Name: "echo", Arguments: `{}`},
	}))

	require.Len(t, h.results, 1)
	assert.Contains(t, h.results[0][0].Content, "cancelled")
	assert.Equal(t, int32(0), tool.executed.Load())
}

func TestToolErrorIsResultNotFailure(t *testing.T) {
	failing := &fakeTool{name: "fails", execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "", context.DeadlineExceeded
	}}
	ok := &fakeTool{name: "works"}
	h := newSchedulerHarness(t, config.ApprovalAuto, nil, failing, ok)

	require.NoError(t, h.scheduler.Schedule(context.Background(), []session.ToolCall{
		{ID: "1", Name: "fails", Arguments: `{}`},
		{ID: "2", Name: "works", Arguments: `{}`},
	}))

	require.Len(t, h.results, 1)
	results := h.results[0]
	require.Len(t, results, 2)
	assert.True(t, strings.HasPrefix(results[0].Content, "Error executing tool"))
	assert.Equal(t, "ok", results[1].Content, "a failing sibling must not abort the rest of the batch")
}
