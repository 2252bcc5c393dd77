package engine

import (
	"strings"

	"github.com/loadmi/Wyatt-sub000/messaging"
)

// turnJob is one accepted inbound message, ready to be processed.
type turnJob struct {
	key     string
	peer    messaging.PeerRef
	trigger string
	msg     messaging.InboundMessage
}

// routeMessage decides whether an inbound message starts a turn. Reviewer
// replies to live escalation prompts are consumed before anything else, so
// a manual override never doubles as a normal conversation message.
func (o *Orchestrator) routeMessage(msg messaging.InboundMessage) (turnJob, bool) {
	if msg.FromSelf || msg.FromID == o.self.ID {
		return turnJob{}, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return turnJob{}, false
	}
	if o.escalation != nil && o.escalation.HandleFreeform(msg) {
		o.logger.Info("escalation_freeform_consumed", "from_id", msg.FromID, "message_id", msg.MessageID)
		return turnJob{}, false
	}

	trigger := "direct"
	if msg.ChatType == messaging.ChatTypeGroup {
		var ok bool
		trigger, ok = o.groupTrigger(msg)
		if !ok {
			o.logger.Debug("inbound_ignored", "chat_id", msg.ChatID, "from_id", msg.FromID, "reason", "no_group_trigger")
			return turnJob{}, false
		}
	}

	key, err := messaging.KeyForInbound(msg)
	if err != nil {
		o.logger.Warn("inbound_key_error", "chat_id", msg.ChatID, "from_id", msg.FromID, "error", err.Error())
		return turnJob{}, false
	}
	return turnJob{
		key:     key,
		peer:    messaging.PeerRef{ID: msg.ChatID},
		trigger: trigger,
		msg:     msg,
	}, true
}

// groupTrigger reports whether a group message explicitly addresses this
// account: a reply to one of our messages, or an @mention.
func (o *Orchestrator) groupTrigger(msg messaging.InboundMessage) (string, bool) {
	if msg.ReplyToFromID != 0 && msg.ReplyToFromID == o.self.ID {
		return "reply_to_self", true
	}
	if o.self.Username == "" {
		return "", false
	}
	want := strings.ToLower(o.self.Username)
	for _, m := range msg.Mentions {
		if strings.ToLower(strings.TrimPrefix(m, "@")) == want {
			return "mention", true
		}
	}
	if strings.Contains(strings.ToLower(msg.Text), "@"+want) {
		return "mention", true
	}
	return "", false
}
