// Package terminal implements the interactive command-line interface for the
// Grok CLI agent.
//
// It connects the agent's processing loop to stdin/stdout: user prompts are
// read line by line, streamed model text is printed as it arrives, and tool
// calls that need sign-off are resolved through an interactive confirmation
// prompt. The terminal is one of the two interaction modes of the CLI:
//   - Terminal mode: interactive prompt-based conversation
//   - ACP mode: JSON-RPC over stdio for editor integration
//
// # Confirmations
//
// When a tool call awaits approval the terminal asks:
//
//	Allow? (y = yes, a = always, n = no, m = modify args)
//
// "always" approves and remembers the tool for the rest of the run; "modify"
// hands the argument object to the Editor, which reads a replacement JSON
// object from stdin before the call runs.
//
// # Verbosity
//
// Tool execution output follows the agent's verbosity level: none prints
// nothing, info prints tool names as they run, all additionally prints
// arguments and results.
//
// The commands /quit and /exit end the session; history is saved under
// .grok/sessions/ either way.
package terminal
