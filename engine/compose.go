package engine

import (
	"strings"

	"github.com/loadmi/Wyatt-sub000/chatlog"
	"github.com/loadmi/Wyatt-sub000/llm"
)

// Context windows larger than this add latency and cost without changing
// the reply for casual chat, so older entries are dropped.
const maxContextEntries = 64

// composeMessages turns a persona prompt plus conversation log into a model
// request. Inbound entries become user turns, outbound entries assistant
// turns; the triggering message is appended only when the log does not
// already end with it.
func composeMessages(systemPrompt string, history []chatlog.Entry, inboundText string) []llm.Message {
	if len(history) > maxContextEntries {
		history = history[len(history)-maxContextEntries:]
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, e := range history {
		role := "user"
		if e.Direction == chatlog.DirectionOutbound {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
	}

	text := strings.TrimSpace(inboundText)
	if text != "" && !endsWithInbound(history, text) {
		msgs = append(msgs, llm.Message{Role: "user", Content: text})
	}
	return msgs
}

func endsWithInbound(history []chatlog.Entry, text string) bool {
	n := len(history)
	if n == 0 {
		return false
	}
	last := history[n-1]
	return last.Direction == chatlog.DirectionInbound && strings.TrimSpace(last.Text) == text
}
