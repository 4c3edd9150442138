package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alby13/grok-cli/agent"
	"github.com/alby13/grok-cli/agent/acp"
	"github.com/alby13/grok-cli/agent/terminal"
	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/llm"
	"github.com/alby13/grok-cli/session"
)

func main() {
	modeFlag := flag.String("m", "", "Approval mode: 'prompt', 'auto' or 'safe'")
	sessionFlag := flag.String("s", "", "Session name to create or use")
	toolsetFlag := flag.String("t", "", "Toolset to use (defaults to 'default')")
	resumeFlag := flag.String("r", "", "Resume a session by name")
	toolVerbosityFlag := flag.String("tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	acpFlag := flag.Bool("acp", false, "Run as an Agent Client Protocol server over stdio")
	traceFlag := flag.Bool("trace", false, "Enable execution tracing to troubleshoot issues")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	var sess *session.Session
	sessionName := *sessionFlag

	if *resumeFlag != "" {
		sessionName = *resumeFlag
		sess, err = session.Load(sessionName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resuming session '%s': %+v\n", sessionName, err)
			os.Exit(1)
		}
		fmt.Printf("Resuming session: %s\n", sessionName)
		// The session's stored flags apply unless overridden on the command line.
		if *modeFlag == "" && sess.ApprovalMode != "" {
			*modeFlag = sess.ApprovalMode
		}
		if *toolsetFlag == "" && sess.Toolset != "" {
			*toolsetFlag = sess.Toolset
		}
		if *toolVerbosityFlag == "" && sess.ToolVerbosity != "" {
			*toolVerbosityFlag = sess.ToolVerbosity
		}
	} else {
		if sessionName == "" {
			sessionName = defaultSessionName()
		}
		sess, err = session.New(sessionName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session '%s': %+v\n", sessionName, err)
			os.Exit(1)
		}
		fmt.Printf("Starting new session: %s\n", sessionName)
	}

	if *modeFlag == "" {
		*modeFlag = cfg.ApprovalMode
	}
	if *modeFlag == "" {
		*modeFlag = string(config.ApprovalPrompt)
	}
	if *toolsetFlag == "" {
		*toolsetFlag = "default"
	}
	if *toolVerbosityFlag == "" {
		*toolVerbosityFlag = "none"
	}

	// The resolved flags are persisted with the session so -r restores them.
	sess.ApprovalMode = *modeFlag
	sess.Toolset = *toolsetFlag
	sess.ToolVerbosity = *toolVerbosityFlag
	sess.Acp = *acpFlag
	if err := sess.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving session '%s': %+v\n", sessionName, err)
		os.Exit(1)
	}

	mode, err := config.ParseApprovalMode(*modeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	var verbosity agent.ToolVerbosity
	switch *toolVerbosityFlag {
	case "none":
		verbosity = agent.ToolVerbosityNone
	case "info":
		verbosity = agent.ToolVerbosityInfo
	case "all":
		verbosity = agent.ToolVerbosityAll
	default:
		fmt.Fprintf(os.Stderr, "Invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'.\n", *toolVerbosityFlag)
		os.Exit(1)
	}

	client, err := newClient(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing LLM client: %+v\n", err)
		os.Exit(1)
	}

	grokAgent, err := agent.New(cfg, sess, *toolsetFlag, mode, client, verbosity, terminal.NewEditor())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}
	defer grokAgent.Close()

	if *acpFlag {
		in := bufio.NewReader(os.Stdin)
		out := bufio.NewWriter(os.Stdout)
		if err := acp.Run(context.Background(), grokAgent, in, out, *traceFlag); err != nil {
			fmt.Fprintf(os.Stderr, "ACP mode failed: %+v\n", err)
			os.Exit(1)
		}
		return
	}

	initialPrompt := strings.Join(flag.Args(), " ")

	fmt.Println("Grok is ready. Type your prompt.")
	term := terminal.New(grokAgent)
	if err := term.Run(context.Background(), initialPrompt); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}

// newClient selects the provider from configuration. The default is the xAI
// endpoint through the OpenAI-compatible client; "mock" replays canned
// responses for offline testing.
func newClient(ctx context.Context, cfg *config.Config) (llm.StreamClient, error) {
	switch cfg.LLMClient {
	case "", "xai", "openai":
		return llm.NewOpenAIStreamClient(ctx, cfg.Model)
	case "gemini":
		return llm.NewGeminiStreamClient(ctx, cfg.Model)
	case "anthropic":
		return llm.NewAnthropicStreamClient(ctx, cfg.Model)
	case "bedrock":
		return llm.NewBedrockStreamClient(ctx, cfg.Model)
	case "mock":
		return &llm.MockStreamClient{}, nil
	}
	return nil, fmt.Errorf("unknown llm provider '%s'", cfg.LLMClient)
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "grok"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
