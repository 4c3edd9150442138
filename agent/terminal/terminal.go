package terminal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alby13/grok-cli/agent"
	"github.com/alby13/grok-cli/errors"
	"github.com/alby13/grok-cli/session"
)

// Terminal handles the terminal/CLI interaction mode for the agent.
type Terminal struct {
	agent  *agent.Agent
	reader *bufio.Reader
}

// New creates a new Terminal instance.
func New(a *agent.Agent) *Terminal {
	return &Terminal{
		agent:  a,
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run starts the interactive terminal session.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Print("You: ")
		line, err := t.reader.ReadString('\n')
		if err != nil {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(line)
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return nil
}

// processTurn handles a single user input turn.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	streaming := false
	callbacks := agent.ProcessCallbacks{
		OnContentDelta: func(delta string) {
			if !streaming {
				fmt.Print("Grok: ")
				streaming = true
			}
			fmt.Print(delta)
		},
		OnAssistantMessage: func(message string) {
			if streaming {
				fmt.Println()
				streaming = false
			}
		},
		OnToolCallUpdate: func(calls []agent.ToolCall) {
			if t.agent.Verbosity == agent.ToolVerbosityNone {
				return
			}
			for _, call := range calls {
				switch call.Status {
				case agent.StatusExecuting:
					if t.agent.Verbosity == agent.ToolVerbosityAll {
						fmt.Printf("Running tool `%s` with args: %v\n", call.Request.Name, call.Args)
					} else {
						fmt.Printf("Running tool `%s`\n", call.Request.Name)
					}
				}
			}
		},
		RequestConfirmation: t.confirm,
		OnToolResult: func(call session.ToolCall, result string) {
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Printf("Tool `%s` output: %s\n", call.Name, result)
			}
		},
		OnWarning: func(warning string) {
			fmt.Printf("Warning: %s\n", warning)
		},
	}

	return t.agent.ProcessUserInput(ctx, userInput, callbacks)
}

// confirm prompts the user for one call awaiting approval.
func (t *Terminal) confirm(call agent.ToolCall) agent.ConfirmationOutcome {
	if call.Confirmation != nil {
		fmt.Println(call.Confirmation.Description)
	} else {
		fmt.Printf("Grok wants to call tool `%s`\n", call.Request.Name)
	}
	for {
		fmt.Print("Allow? (y = yes, a = always, n = no, m = modify args): ")
		answer, err := t.reader.ReadString('\n')
		if err != nil {
			return agent.OutcomeReject
		}
		switch strings.TrimSpace(strings.ToLower(answer)) {
		case "y", "yes":
			return agent.OutcomeApprove
		case "a", "always":
			return agent.OutcomeApproveAlways
		case "n", "no":
			return agent.OutcomeReject
		case "m", "modify":
			return agent.OutcomeModify
		}
	}
}

// Editor implements the scheduler's modify-then-approve collaborator by
// reading a replacement JSON argument object from stdin.
type Editor struct {
	reader *bufio.Reader
}

func NewEditor() *Editor {
	return &Editor{reader: bufio.NewReader(os.Stdin)}
}

func (e *Editor) Modify(args map[string]interface{}) (map[string]interface{}, error) {
	current, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrapf(err, "could not render current arguments")
	}
	fmt.Printf("Current args: %s\n", current)
	fmt.Print("New args (single-line JSON object): ")

	line, err := e.reader.ReadString('\n')
	if err != nil {
		return nil, errors.Wrapf(err, "could not read replacement arguments")
	}
	var edited map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &edited); err != nil {
		return nil, errors.Wrapf(err, "replacement arguments are not a valid JSON object")
	}
	return edited, nil
}
