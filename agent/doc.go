// Package agent contains the conversation core shared by the interaction
// frontends (terminal CLI and ACP server): the turn engine, the tool-call
// scheduler and the conversation driver.
//
// # Architecture
//
// One user input is processed as a loop of model round-trips:
//
//   - The turn engine (Engine) opens a streaming request, emits ordered
//     StreamEvents for text and tool-call fragments, and assembles the
//     finalized assistant message plus the list of requested tool calls.
//   - The scheduler (Scheduler) owns the lifecycle of each requested call:
//     validation, optional user confirmation, concurrent execution, and a
//     single ordered completion batch of tool-result messages.
//   - The driver (Agent.ProcessUserInput) owns the history: it appends the
//     turn's assistant message and the batch's results, then loops with a
//     synthetic continuation prompt until the model stops requesting tools,
//     the next-speaker heuristic says it is done, or the turn budget runs
//     out. Long histories are compacted into a model-generated summary.
//
// # Callbacks
//
// The ProcessCallbacks structure lets each interaction mode decide how
// events are surfaced (printing to stdout vs. JSON-RPC notifications) while
// sharing the same loop. Confirmation outcomes flow back through
// RequestConfirmation; everything else is display-only.
//
// # Approval modes
//
//   - config.ApprovalPrompt: every tool that asks for confirmation prompts.
//   - config.ApprovalAuto: tools run without asking.
//   - config.ApprovalSafe: read-only tools run, the rest prompt.
package agent
