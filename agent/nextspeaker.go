package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/alby13/grok-cli/llm"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/telemetry"
)

// nextSpeakerPrompt asks the model to judge its own last message. The
// response must be machine-parseable; anything else counts as undetermined
// and ends the loop.
const nextSpeakerPrompt = `Considering your last response, decide who should speak next. ` +
	`If you stated you were about to do something or your answer is clearly incomplete, you should continue. ` +
	`Respond with only a JSON object of the form {"next_speaker": "model"} or {"next_speaker": "user"}.`

// shouldContinueSpeaking runs the next-speaker heuristic: one auxiliary
// model call deciding whether the model intends to keep talking. Failures
// and undetermined answers mean "stop", never an error.
func (a *Agent) shouldContinueSpeaking(ctx context.Context) bool {
	if len(a.Session.Messages) == 0 {
		return false
	}
	last := a.Session.Messages[len(a.Session.Messages)-1]
	if last.Role != session.RoleAssistant || last.Content == "" {
		return false
	}

	msgs := append(a.historySnapshot(), session.Message{
		Role:    session.RoleUser,
		Content: nextSpeakerPrompt,
	})

	text, err := llm.CollectText(ctx, a.Client, msgs)
	if err != nil {
		telemetry.Report(err, "next-speaker check")
		return false
	}

	var verdict struct {
		NextSpeaker string `json:"next_speaker"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &verdict); err != nil {
		return false
	}
	return verdict.NextSpeaker == "model"
}

// stripCodeFences unwraps ```json ... ``` style answers, which models emit
// even when asked for bare JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
