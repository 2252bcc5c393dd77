package messaging

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	directKeyPrefix = "dm"
	groupKeyPrefix  = "grp"
)

// DirectKey builds the conversation key for a one-on-one chat.
func DirectKey(userID int64) (string, error) {
	if userID == 0 {
		return "", fmt.Errorf("user id is required")
	}
	return fmt.Sprintf("%s:%d", directKeyPrefix, userID), nil
}

// GroupKey builds the conversation key for one participant inside a group
// chat. Group conversations are tracked per participant, not per group.
func GroupKey(chatID, userID int64) (string, error) {
	if chatID == 0 {
		return "", fmt.Errorf("chat id is required")
	}
	if userID == 0 {
		return "", fmt.Errorf("user id is required")
	}
	return fmt.Sprintf("%s:%d:%d", groupKeyPrefix, chatID, userID), nil
}

// KeyForInbound derives the conversation key for an inbound message.
func KeyForInbound(msg InboundMessage) (string, error) {
	switch msg.ChatType {
	case ChatTypeDirect:
		return DirectKey(msg.FromID)
	case ChatTypeGroup:
		return GroupKey(msg.ChatID, msg.FromID)
	default:
		return "", fmt.Errorf("chat type is invalid: %q", msg.ChatType)
	}
}

// ChatIDFromKey extracts the chat portion of a conversation key.
func ChatIDFromKey(key string) string {
	parts := strings.Split(strings.TrimSpace(key), ":")
	if len(parts) < 2 {
		return ""
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return ""
	}
	return parts[1]
}
