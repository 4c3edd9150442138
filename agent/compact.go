package agent

import (
	"context"

	"github.com/alby13/grok-cli/llm"
	"github.com/alby13/grok-cli/session"
	"github.com/alby13/grok-cli/telemetry"
)

const summarizePrompt = `Summarize the conversation so far for your own later use. ` +
	`Capture the user's goals, what has been done, important file paths and tool outputs, and what remains open. ` +
	`Respond with only the summary text.`

const summaryAcknowledgement = "Understood. I will continue from this summary."

// maybeCompact replaces a long history with a model-generated summary so the
// context stays bounded. Best-effort: if summarization fails the history is
// left untouched and the loop proceeds normally.
func (a *Agent) maybeCompact(ctx context.Context) {
	threshold := a.Config.CompactionThreshold()
	if len(a.Session.Messages) < threshold {
		return
	}

	// The configured number of recent messages survives verbatim, and the
	// newest user message does regardless; it must still be the last entry
	// when the next turn starts.
	history := a.historySnapshot()
	keep := a.Config.CompactionKeepRecent()
	if last := len(history) - 1; keep == 0 && last >= 0 && history[last].Role == session.RoleUser {
		keep = 1
	}
	if keep >= len(history) {
		return
	}
	var tail []session.Message
	if keep > 0 {
		cut := len(history) - keep
		tail = append(tail, history[cut:]...)
		history = history[:cut:cut]
	}

	msgs := append(history, session.Message{
		Role:    session.RoleUser,
		Content: summarizePrompt,
	})
	summary, err := llm.CollectText(ctx, a.Client, msgs)
	if err != nil || summary == "" {
		telemetry.Report(err, "history compaction")
		return
	}

	// The system prompt, when present, survives compaction verbatim.
	var compacted []session.Message
	if len(history) > 0 && history[0].Role == session.RoleSystem {
		compacted = append(compacted, history[0])
	}
	compacted = append(compacted,
		session.Message{Role: session.RoleUser, Content: "Summary of the conversation so far:\n" + summary},
		session.Message{Role: session.RoleAssistant, Content: summaryAcknowledgement},
	)
	compacted = append(compacted, tail...)

	before := len(a.Session.Messages)
	a.Session.ReplaceMessages(compacted)
	telemetry.Emit("compaction", map[string]any{
		"messages_before": before,
		"messages_after":  len(compacted),
	})
}
