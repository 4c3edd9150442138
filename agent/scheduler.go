package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/telemetry"
	"github.com/alby13/grok-cli/tools"
)

// ToolCallStatus is the lifecycle state of one tool call in a batch.
// Transitions only move forward:
//
//	validating -> awaiting_approval -> scheduled -> executing -> success | error | cancelled
//	validating -> scheduled (no confirmation required)
//	validating -> error (bad arguments, unknown tool)
//	awaiting_approval -> error | cancelled (confirmation failed or rejected)
type ToolCallStatus string

const (
	StatusValidating       ToolCallStatus = "validating"
	StatusAwaitingApproval ToolCallStatus = "awaiting_approval"
	StatusScheduled        ToolCallStatus = "scheduled"
	StatusExecuting        ToolCallStatus = "executing"
	StatusSuccess          ToolCallStatus = "success"
	StatusError            ToolCallStatus = "error"
	StatusCancelled        ToolCallStatus = "cancelled"
)

// Terminal reports whether no further transitions can occur.
func (s ToolCallStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ConfirmationOutcome is the user's decision on a call awaiting approval.
type ConfirmationOutcome string

const (
	OutcomeApprove       ConfirmationOutcome = "approve"
	OutcomeApproveAlways ConfirmationOutcome = "approve_always"
	OutcomeReject        ConfirmationOutcome = "reject"
	OutcomeModify        ConfirmationOutcome = "modify"
)

// ToolCall is the scheduler's central entity: one requested invocation and
// everything accumulated over its lifecycle. Request.ID is the model's
// opaque correlation token; Result is only meaningful once Status is
// terminal.
type ToolCall struct {
	Request      session.ToolCall
	Status       ToolCallStatus
	Args         map[string]interface{}
	Confirmation *config.Confirmation
	Outcome      ConfirmationOutcome
	Result       session.Message

	tool     tools.Tool
	duration time.Duration
}

// ErrSchedulerBusy is returned when Schedule is called while a previous
// batch still has calls executing or awaiting approval. This signals a bug
// in the caller's loop, not a user-facing condition; batches are never
// queued.
var ErrSchedulerBusy = stderrors.New("scheduler busy: a batch is already active")

// Editor obtains user-edited arguments for the modify-then-approve outcome.
type Editor interface {
	Modify(args map[string]interface{}) (map[string]interface{}, error)
}

// SchedulerConfig wires the scheduler's collaborators.
type SchedulerConfig struct {
	// Lookup resolves a tool name against the active registry view.
	Lookup func(name string) (tools.Tool, bool)
	// Mode supplies the current approval-mode policy.
	Mode func() config.ApprovalMode
	// Editor is consulted only for the modify outcome. May be nil, in
	// which case modify degrades to a plain approval.
	Editor Editor
	// OnUpdate receives a snapshot of the full batch after every state
	// transition. Progress rendering only; no control-flow consequence.
	OnUpdate func(calls []ToolCall)
	// OnComplete receives the ordered result messages exactly once per
	// batch, after every call reaches a terminal state.
	OnComplete func(results []session.Message)
}

// Scheduler owns the lifecycle of each requested tool call from validation
// through execution to completion. It holds at most one active batch at a
// time; the batch slice is owned exclusively by the scheduler and external
// actors interact only through Schedule, HandleConfirmation and the
// configured callbacks.
type Scheduler struct {
	cfg SchedulerConfig

	mu             sync.Mutex
	batch          []*ToolCall
	executeStarted bool
	approvedTools  map[string]bool

	notifyMu sync.Mutex
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		approvedTools: make(map[string]bool),
	}
}

// Schedule admits a batch of requests and drives it as far as it can go
// without external input. Batches with no confirmations pending run to
// completion before Schedule returns; otherwise calls sit in
// awaiting_approval until HandleConfirmation resolves them. A zero-length
// batch schedules nothing and never triggers the completion callback.
func (s *Scheduler) Schedule(ctx context.Context, requests []session.ToolCall) error {
	if len(requests) == 0 {
		return nil
	}

	s.mu.Lock()
	for _, c := range s.batch {
		if c.Status == StatusExecuting || c.Status == StatusAwaitingApproval {
			s.mu.Unlock()
			return ErrSchedulerBusy
		}
	}
	batch := make([]*ToolCall, 0, len(requests))
	for _, req := range requests {
		batch = append(batch, s.admit(req))
	}
	s.batch = batch
	s.executeStarted = false
	s.mu.Unlock()
	s.notify()

	s.runConfirmationPhase()
	s.maybeExecute(ctx)
	return nil
}

// admit validates a single request independently of its siblings. Parse and
// lookup failures are terminal immediately; the confirmation phase is never
// consulted for them. Caller holds s.mu.
func (s *Scheduler) admit(req session.ToolCall) *ToolCall {
	call := &ToolCall{Request: req, Status: StatusValidating}

	args := map[string]interface{}{}
	// An absent payload is a valid empty argument set; only a present,
	// malformed one is an error.
	if req.Arguments != "" {
		if err := json.Unmarshal([]byte(req.Arguments), &args); err != nil {
			call.Status = StatusError
			call.Result = toolResultMessage(req, fmt.Sprintf(
				"Error: could not parse arguments for tool '%s': %v. Raw arguments: %s",
				req.Name, err, req.Arguments))
			return call
		}
	}

	tool, ok := s.cfg.Lookup(req.Name)
	if !ok {
		call.Status = StatusError
		call.Result = toolResultMessage(req, fmt.Sprintf("Error: tool '%s' not found in registry.", req.Name))
		return call
	}

	call.tool = tool
	call.Args = args
	return call
}

// runConfirmationPhase moves every validating call to either scheduled or
// awaiting_approval, consulting the tool's own confirmation check under the
// current approval mode.
func (s *Scheduler) runConfirmationPhase() {
	s.mu.Lock()
	mode := s.cfg.Mode()
	type check struct {
		call      *ToolCall
		confirmer tools.Confirmer
	}
	var checks []check
	for _, call := range s.batch {
		if call.Status != StatusValidating {
			continue
		}
		confirmer, ok := call.tool.(tools.Confirmer)
		if !ok || s.approvedTools[call.Request.Name] {
			call.Status = StatusScheduled
			continue
		}
		checks = append(checks, check{call: call, confirmer: confirmer})
	}
	s.mu.Unlock()

	for _, c := range checks {
		// The tool's check runs without the batch lock; it may inspect
		// the filesystem or similar.
		confirmation := c.confirmer.RequiresConfirmation(c.call.Args, mode)
		s.mu.Lock()
		if confirmation == nil {
			c.call.Status = StatusScheduled
		} else {
			c.call.Status = StatusAwaitingApproval
			c.call.Confirmation = confirmation
		}
		s.mu.Unlock()
		s.notify()
	}
}

// HandleConfirmation is the dedicated entry point through which an external
// actor resolves a call in awaiting_approval. It drives the batch onward
// and, when this was the last blocker, runs the execution phase to
// completion before returning.
func (s *Scheduler) HandleConfirmation(ctx context.Context, callID string, outcome ConfirmationOutcome) error {
	s.mu.Lock()
	var call *ToolCall
	for _, c := range s.batch {
		if c.Request.ID == callID && c.Status == StatusAwaitingApproval {
			call = c
			break
		}
	}
	if call == nil {
		s.mu.Unlock()
		return errors.New("no call with id '%s' is awaiting approval", callID)
	}
	call.Outcome = outcome

	switch outcome {
	case OutcomeReject:
		call.Status = StatusCancelled
		call.Result = toolResultMessage(call.Request, fmt.Sprintf("Tool call '%s' was declined by the user.", call.Request.Name))
	case OutcomeApproveAlways:
		s.approvedTools[call.Request.Name] = true
		call.Status = StatusScheduled
	case OutcomeModify:
		editor := s.cfg.Editor
		if editor == nil {
			call.Status = StatusScheduled
			break
		}
		// The editor blocks on the user; release the batch lock while it
		// runs. The call is parked in awaiting_approval so no sibling
		// path can race it into execution.
		s.mu.Unlock()
		edited, err := editor.Modify(call.Args)
		s.mu.Lock()
		if err != nil {
			call.Status = StatusError
			call.Result = toolResultMessage(call.Request, fmt.Sprintf("Error: editing arguments for '%s' failed: %v", call.Request.Name, err))
			break
		}
		call.Args = edited
		call.Status = StatusScheduled
	default:
		call.Status = StatusScheduled
	}
	s.mu.Unlock()
	s.notify()

	s.maybeExecute(ctx)
	return nil
}

// maybeExecute runs the execution phase once every call in the batch is
// either scheduled or already terminal. All scheduled calls execute
// concurrently and are awaited jointly; per-call failures never abort
// siblings. When the whole batch is terminal, it completes the batch.
func (s *Scheduler) maybeExecute(ctx context.Context) {
	s.mu.Lock()
	if s.batch == nil || s.executeStarted {
		s.mu.Unlock()
		return
	}
	for _, c := range s.batch {
		if c.Status == StatusValidating || c.Status == StatusAwaitingApproval {
			s.mu.Unlock()
			return
		}
	}
	s.executeStarted = true

	var toRun []*ToolCall
	for _, c := range s.batch {
		if c.Status == StatusScheduled {
			toRun = append(toRun, c)
		}
	}

	// A cancelled round-trip never starts new executions.
	if ctx.Err() != nil {
		for _, c := range toRun {
			c.Status = StatusCancelled
			c.Result = toolResultMessage(c.Request, fmt.Sprintf("Tool call '%s' was cancelled.", c.Request.Name))
		}
		toRun = nil
	}

	for _, c := range toRun {
		c.Status = StatusExecuting
	}
	s.mu.Unlock()
	s.notify()

	if len(toRun) > 0 {
		var wg sync.WaitGroup
		for _, c := range toRun {
			wg.Add(1)
			go func(c *ToolCall) {
				defer wg.Done()
				s.execute(ctx, c)
			}(c)
		}
		wg.Wait()
	}

	s.complete()
}

// execute invokes one tool and settles its terminal state. A failing tool is
// reported back to the model as a tool result, never escalated.
func (s *Scheduler) execute(ctx context.Context, call *ToolCall) {
	start := time.Now()
	output, err := call.tool.Execute(ctx, call.Args)
	elapsed := time.Since(start)

	s.mu.Lock()
	call.duration = elapsed
	switch {
	case ctx.Err() != nil:
		// Cancellation observed at completion wins regardless of what the
		// tool returned.
		call.Status = StatusCancelled
		call.Result = toolResultMessage(call.Request, fmt.Sprintf("Tool call '%s' was cancelled.", call.Request.Name))
	case err != nil:
		call.Status = StatusError
		call.Result = toolResultMessage(call.Request, fmt.Sprintf("Error executing tool '%s': %v", call.Request.Name, err))
	default:
		call.Status = StatusSuccess
		call.Result = toolResultMessage(call.Request, output)
	}
	s.mu.Unlock()
	s.notify()
}

// complete atomically snapshots and clears the batch, logs one telemetry
// event per call, and delivers the ordered results exactly once.
func (s *Scheduler) complete() {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.executeStarted = false
	s.mu.Unlock()

	results := make([]session.Message, 0, len(batch))
	for _, call := range batch {
		telemetry.LogToolCall(telemetry.ToolCallEvent{
			Name:       call.Request.Name,
			DurationMs: call.duration.Milliseconds(),
			Success:    call.Status == StatusSuccess,
			Decision:   string(call.Outcome),
			Error:      errorContent(call),
		})
		results = append(results, call.Result)
	}

	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete(results)
	}
}

// Snapshot returns a copy of the current batch state for rendering.
func (s *Scheduler) Snapshot() []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AwaitingApproval returns the calls currently suspended on a confirmation
// outcome, in request order.
func (s *Scheduler) AwaitingApproval() []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ToolCall
	for _, c := range s.batch {
		if c.Status == StatusAwaitingApproval {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Scheduler) snapshotLocked() []ToolCall {
	out := make([]ToolCall, 0, len(s.batch))
	for _, c := range s.batch {
		out = append(out, *c)
	}
	return out
}

// notify delivers a batch snapshot to the observer. Serialized so
// concurrently finishing executions do not interleave renders.
func (s *Scheduler) notify() {
	if s.cfg.OnUpdate == nil {
		return
	}
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.cfg.OnUpdate(snapshot)
}

func toolResultMessage(req session.ToolCall, content string) session.Message {
	return session.Message{
		Role:      session.RoleTool,
		Content:   content,
		ToolCalls: []session.ToolCall{{ID: req.ID, Name: req.Name}},
	}
}

func errorContent(call *ToolCall) string {
	if call.Status != StatusError {
		return ""
	}
	return call.Result.Content
}
