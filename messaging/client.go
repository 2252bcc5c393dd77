package messaging

import "context"

// Client is the messaging-protocol boundary. Connection management,
// authentication and protocol-level retries live behind it.
type Client interface {
	// Self returns the authenticated account.
	Self(ctx context.Context) (PeerRef, error)

	// ResolvePeer resolves a configured contact (numeric id or @username)
	// into a send target.
	ResolvePeer(ctx context.Context, contact string) (PeerRef, error)

	// FetchHistoryPage returns up to limit messages older than beforeID,
	// newest first. beforeID <= 0 means "from the latest message".
	FetchHistoryPage(ctx context.Context, peer PeerRef, beforeID int64, limit int) ([]RawMessage, error)

	SendMessage(ctx context.Context, peer PeerRef, text string, opts SendOptions) (SentRef, error)

	// SendPlain is the lower-level fallback send path used when
	// SendMessage fails; no formatting, no controls.
	SendPlain(ctx context.Context, peer PeerRef, text string) (SentRef, error)

	SendTyping(ctx context.Context, peer PeerRef, active bool) error

	EditMessage(ctx context.Context, ref SentRef, newText string, buttons []Button) error

	Subscribe(h Handlers)
}
