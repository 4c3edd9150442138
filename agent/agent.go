package agent

import (
	"context"

	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/llm"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/tools"
)

// ToolVerbosity controls how much tool execution detail frontends display.
type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// Synthetic prompts injected between model round-trips.
const (
	continueAfterToolsPrompt = "Analyze the tool results and continue with the user's request."
	pleaseContinuePrompt     = "Please continue."
)

// ProcessCallbacks lets different interaction modes (terminal, ACP) handle
// agent events their own way while sharing the same processing loop. Any
// callback may be nil; RequestConfirmation defaulting to nil means every
// confirmation is rejected, which is the safe default for frontends that
// cannot ask.
type ProcessCallbacks struct {
	// OnContentDelta receives streamed text fragments in receipt order.
	OnContentDelta func(delta string)
	// OnAssistantMessage receives the finalized assistant text of a turn.
	OnAssistantMessage func(message string)
	// OnToolCallUpdate receives a snapshot of the scheduler's batch after
	// every state transition. Rendering only.
	OnToolCallUpdate func(calls []ToolCall)
	// RequestConfirmation resolves one call awaiting approval.
	RequestConfirmation func(call ToolCall) ConfirmationOutcome
	// OnToolResult receives each completed call's result message content.
	OnToolResult func(call session.ToolCall, result string)
	// OnWarning receives non-fatal conditions worth showing the user.
	OnWarning func(warning string)
}

// Agent ties the turn engine, the tool-call scheduler and the session
// history into a multi-round conversation. The history is owned exclusively
// by the agent: the engine reads snapshots, the scheduler produces result
// messages, and only the agent's loop appends.
type Agent struct {
	Config         *config.Config
	Session        *session.Session
	Client         llm.StreamClient
	Registry       *tools.Registry
	AvailableTools []tools.Tool
	Mode           config.ApprovalMode
	Verbosity      ToolVerbosity

	engine    *Engine
	scheduler *Scheduler

	// Per-ProcessUserInput state; the agent is not safe for concurrent
	// ProcessUserInput calls.
	callbacks    ProcessCallbacks
	batchResults []session.Message
	batchDone    bool
}

// New creates an agent for the given toolset and approval mode. The editor
// collaborator handles the modify-then-approve confirmation outcome and may
// be nil.
func New(cfg *config.Config, sess *session.Session, toolset string, mode config.ApprovalMode, client llm.StreamClient, verbosity ToolVerbosity, editor Editor) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(cfg)
	activeTools, err := registry.ActiveTools(ts)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		Config:         cfg,
		Session:        sess,
		Client:         client,
		Registry:       registry,
		AvailableTools: activeTools,
		Mode:           mode,
		Verbosity:      verbosity,
	}

	// The schema set is rebuilt from the active tools on every turn rather
	// than cached, so registry changes show up immediately.
	a.engine = NewEngine(client, func() []tools.Schema {
		return tools.Schemas(a.AvailableTools)
	})
	a.scheduler = NewScheduler(SchedulerConfig{
		Lookup: a.lookupTool,
		Mode:   func() config.ApprovalMode { return a.Mode },
		Editor: editor,
		OnUpdate: func(calls []ToolCall) {
			if a.callbacks.OnToolCallUpdate != nil {
				a.callbacks.OnToolCallUpdate(calls)
			}
		},
		OnComplete: func(results []session.Message) {
			a.batchResults = results
			a.batchDone = true
		},
	})

	return a, nil
}

// Close releases resources owned by the agent, such as MCP subprocesses.
func (a *Agent) Close() {
	if a.Registry != nil {
		a.Registry.Close()
	}
}

// ProcessUserInput runs the conversation loop for one user input: it
// appends the user message and alternates model turns and tool batches
// until the model stops requesting tools and does not intend to keep
// talking, or the turn budget runs out.
func (a *Agent) ProcessUserInput(ctx context.Context, userInput string, callbacks ProcessCallbacks) error {
	a.callbacks = callbacks
	defer func() { a.callbacks = ProcessCallbacks{} }()

	a.Session.AddMessage(session.Message{Role: session.RoleUser, Content: userInput})

	remaining := a.Config.TurnBudget()
	for remaining > 0 {
		remaining--
		if ctx.Err() != nil {
			break
		}

		a.maybeCompact(ctx)

		events, turn := a.engine.Run(ctx, a.historySnapshot())
		for ev := range events {
			switch ev.Type {
			case EventContentDelta:
				if callbacks.OnContentDelta != nil {
					callbacks.OnContentDelta(ev.Text)
				}
			case EventError:
				// Turn failure is picked up below via turn.Failed.
			}
		}

		if turn.Cancelled() {
			break
		}
		if turn.Failed() {
			a.saveSession()
			return errors.New("model turn failed: %s", turn.Err())
		}

		// Exactly one append per turn; the engine never writes history.
		msg := turn.Message()
		a.Session.AddMessage(msg)
		if msg.Content != "" && callbacks.OnAssistantMessage != nil {
			callbacks.OnAssistantMessage(msg.Content)
		}

		pending := turn.PendingToolCalls()
		if len(pending) == 0 {
			if a.shouldContinueSpeaking(ctx) && remaining > 0 {
				a.Session.AddMessage(session.Message{Role: session.RoleUser, Content: pleaseContinuePrompt})
				continue
			}
			break
		}

		results, err := a.runBatch(ctx, pending)
		if err != nil {
			// Scheduler contract violations are driver bugs and escalate.
			a.saveSession()
			return err
		}
		for _, res := range results {
			a.Session.AddMessage(res)
			if callbacks.OnToolResult != nil && len(res.ToolCalls) == 1 {
				callbacks.OnToolResult(res.ToolCalls[0], res.Content)
			}
		}

		if ctx.Err() != nil {
			break
		}
		a.Session.AddMessage(session.Message{Role: session.RoleUser, Content: continueAfterToolsPrompt})
	}

	a.saveSession()
	return nil
}

// runBatch hands one turn's pending calls to the scheduler and resolves
// confirmations through the frontend until the batch completes. Results
// arrive via the scheduler's completion callback, which fires synchronously
// inside Schedule or the final HandleConfirmation.
func (a *Agent) runBatch(ctx context.Context, pending []session.ToolCall) ([]session.Message, error) {
	a.batchResults = nil
	a.batchDone = false

	if err := a.scheduler.Schedule(ctx, pending); err != nil {
		return nil, err
	}

	for !a.batchDone {
		awaiting := a.scheduler.AwaitingApproval()
		if len(awaiting) == 0 {
			// Nothing to resolve and no completion: the batch was empty.
			break
		}
		for _, call := range awaiting {
			outcome := OutcomeReject
			if a.callbacks.RequestConfirmation != nil {
				outcome = a.callbacks.RequestConfirmation(call)
			}
			if err := a.scheduler.HandleConfirmation(ctx, call.Request.ID, outcome); err != nil {
				return nil, err
			}
			if a.batchDone {
				break
			}
		}
	}

	return a.batchResults, nil
}

// lookupTool resolves a name against the active tools of this agent's
// toolset, which is the registry view the model was offered.
func (a *Agent) lookupTool(name string) (tools.Tool, bool) {
	for _, t := range a.AvailableTools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// historySnapshot hands the engine a copy so nothing outside the agent can
// mutate the authoritative history.
func (a *Agent) historySnapshot() []session.Message {
	snapshot := make([]session.Message, len(a.Session.Messages))
	copy(snapshot, a.Session.Messages)
	return snapshot
}

func (a *Agent) saveSession() {
	if err := a.Session.Save(); err != nil && a.callbacks.OnWarning != nil {
		a.callbacks.OnWarning("failed to save session: " + err.Error())
	}
}
