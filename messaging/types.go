package messaging

import "time"

type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// PeerRef identifies a resolved send target on the messaging platform.
type PeerRef struct {
	ID       int64
	Username string
}

// SentRef identifies a message this process sent, so it can be edited later.
type SentRef struct {
	PeerID    int64
	MessageID int64
}

func (r SentRef) IsZero() bool {
	return r.PeerID == 0 && r.MessageID == 0
}

// RawMessage is a history item as returned by the platform client. Messages
// without a resolvable text payload carry an empty Text.
type RawMessage struct {
	ID       int64
	SentAt   time.Time
	Outgoing bool
	Text     string
}

type Button struct {
	Label string
	Data  string
}

type SendOptions struct {
	Buttons []Button
	ReplyTo int64
}

// InboundMessage is a new-message event delivered by the platform client.
type InboundMessage struct {
	ChatID           int64
	ChatType         ChatType
	MessageID        int64
	SentAt           time.Time
	FromID           int64
	FromUsername     string
	FromDisplayName  string
	FromSelf         bool
	Text             string
	ReplyToMessageID int64
	ReplyToFromID    int64
	Mentions         []string
}

// ButtonClick is an actionable-control activation event.
type ButtonClick struct {
	FromID       int64
	FromUsername string
	Message      SentRef
	Data         string
}

type Handlers struct {
	OnMessage     func(InboundMessage)
	OnButtonClick func(ButtonClick)
}
