package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loadmi/Wyatt-sub000/messaging"
)

const DefaultReviewWindow = 90 * time.Second

var ErrForeignActor = errors.New("escalate: actor is not the configured reviewer")

type State string

const (
	StateCreated             State = "created"
	StateResolvedBySelection State = "resolved_by_selection"
	StateResolvedByFreeform  State = "resolved_by_freeform"
	StateExpired             State = "expired"
	StateSuperseded          State = "superseded"
)

type Source string

const (
	SourceSelection Source = "selection"
	SourceFreeform  Source = "freeform"
	SourceNone      Source = "none"
)

// Outcome is what the awaiting turn receives when a request reaches a
// terminal state. Source == SourceNone means "no override": fall back to the
// automatic reply, unless Superseded, in which case the turn is abandoned
// and a newer request owns the conversation.
type Outcome struct {
	Source      Source
	Text        string
	ChosenIndex int
	Superseded  bool
}

type request struct {
	id         string
	key        string
	candidates []string
	createdAt  time.Time
	expiresAt  time.Time
	prompt     messaging.SentRef
	timer      *time.Timer
	resolved   bool
	state      State
	done       chan Outcome
}

// View is the read-only escalation state exposed to the dashboard layer.
type View struct {
	RequestID       string    `json:"requestId"`
	ConversationKey string    `json:"conversationKey"`
	Candidates      []string  `json:"candidates"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Coordinator runs the time-boxed human-escalation workflow. At most one
// live request exists per conversation key; creating a new one supersedes
// the previous one before registering itself.
type Coordinator struct {
	mu       sync.Mutex
	client   messaging.Client
	reviewer messaging.PeerRef
	window   time.Duration
	byID     map[string]*request
	byKey    map[string]*request
	byPrompt map[messaging.SentRef]*request
	logger   *slog.Logger
	now      func() time.Time
}

type Options struct {
	Client       messaging.Client
	Reviewer     messaging.PeerRef
	ReviewWindow time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("escalate: messaging client is required")
	}
	if opts.Reviewer.ID == 0 {
		return nil, fmt.Errorf("escalate: reviewer peer is required")
	}
	window := opts.ReviewWindow
	if window <= 0 {
		window = DefaultReviewWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		client:   opts.Client,
		reviewer: opts.Reviewer,
		window:   window,
		byID:     make(map[string]*request),
		byKey:    make(map[string]*request),
		byPrompt: make(map[messaging.SentRef]*request),
		logger:   logger,
		now:      now,
	}, nil
}

// Offer gives the reviewer a time-boxed chance to pick or write the reply
// for a dormant conversation. It blocks until the request reaches a terminal
// state and never fails: any trouble degrades to a no-override outcome.
func (c *Coordinator) Offer(ctx context.Context, key string, candidates []string) Outcome {
	noOverride := Outcome{Source: SourceNone, ChosenIndex: -1}
	if len(candidates) == 0 {
		return noOverride
	}

	createdAt := c.now()
	req := &request{
		id:         uuid.NewString(),
		key:        key,
		candidates: append([]string(nil), candidates...),
		createdAt:  createdAt,
		expiresAt:  createdAt.Add(c.window),
		state:      StateCreated,
		done:       make(chan Outcome, 1),
	}

	c.mu.Lock()
	old := c.byKey[key]
	c.byID[req.id] = req
	c.byKey[key] = req
	c.mu.Unlock()

	if old != nil {
		if c.resolve(old, StateSuperseded, Outcome{Source: SourceNone, ChosenIndex: -1, Superseded: true}, "superseded: a newer message arrived for this conversation") {
			c.logger.Info("escalation_superseded", "conversation_key", key, "request_id", old.id, "superseded_by", req.id)
		}
	}

	ref, err := c.client.SendMessage(ctx, c.reviewer, promptText(key, req.candidates, c.window), messaging.SendOptions{
		Buttons: buttonsFor(req),
	})
	if err != nil {
		// Cannot reach the reviewer: degrade to the automatic reply.
		c.logger.Warn("escalation_prompt_send_error", "conversation_key", key, "request_id", req.id, "error", err.Error())
		c.resolve(req, StateExpired, noOverride, "")
		return <-req.done
	}

	c.mu.Lock()
	if req.resolved {
		// Superseded while the prompt was in flight.
		c.mu.Unlock()
		c.editPrompt(ref, "superseded: a newer message arrived for this conversation")
		return <-req.done
	}
	req.prompt = ref
	c.byPrompt[ref] = req
	req.timer = time.AfterFunc(c.window, func() { c.expire(req.id) })
	c.mu.Unlock()

	c.logger.Info("escalation_created",
		"conversation_key", key,
		"request_id", req.id,
		"candidates", len(req.candidates),
		"expires_at", req.expiresAt.UTC().Format(time.RFC3339),
	)

	select {
	case out := <-req.done:
		return out
	case <-ctx.Done():
		c.resolve(req, StateExpired, noOverride, "cancelled before any manual input arrived")
		return <-req.done
	}
}

// HandleButton resolves a request from a reviewer control activation.
// Unknown or already-terminal requests are a silent no-op.
func (c *Coordinator) HandleButton(click messaging.ButtonClick) error {
	if click.FromID != c.reviewer.ID {
		return fmt.Errorf("%w: user %d", ErrForeignActor, click.FromID)
	}
	id, idx, err := parseButtonData(click.Data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	req := c.byID[id]
	c.mu.Unlock()
	if req == nil {
		return nil
	}
	if idx < 0 || idx >= len(req.candidates) {
		return fmt.Errorf("escalate: candidate index %d out of range", idx)
	}

	out := Outcome{Source: SourceSelection, Text: req.candidates[idx], ChosenIndex: idx}
	if c.resolve(req, StateResolvedBySelection, out, fmt.Sprintf("manual reply #%d sent", idx+1)) {
		c.logger.Info("escalation_resolved_by_selection", "conversation_key", req.key, "request_id", req.id, "chosen_index", idx)
	}
	return nil
}

// HandleFreeform resolves a request from a reviewer message that replies to
// the escalation prompt; the text is used verbatim. It reports whether the
// message was consumed.
func (c *Coordinator) HandleFreeform(msg messaging.InboundMessage) bool {
	if msg.FromID != c.reviewer.ID || msg.ReplyToMessageID == 0 {
		return false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return false
	}

	ref := messaging.SentRef{PeerID: msg.ChatID, MessageID: msg.ReplyToMessageID}
	c.mu.Lock()
	req := c.byPrompt[ref]
	c.mu.Unlock()
	if req == nil {
		return false
	}

	out := Outcome{Source: SourceFreeform, Text: text, ChosenIndex: -1}
	if c.resolve(req, StateResolvedByFreeform, out, "manual freeform reply sent") {
		c.logger.Info("escalation_resolved_by_freeform", "conversation_key", req.key, "request_id", req.id, "text_len", len(text))
	}
	return true
}

// Live reports the unresolved request for key, if any.
func (c *Coordinator) Live(key string) (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.byKey[key]
	if !ok {
		return View{}, false
	}
	return viewOf(req), true
}

// LiveSnapshot lists every unresolved request for the dashboard layer.
func (c *Coordinator) LiveSnapshot() []View {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]View, 0, len(c.byKey))
	for _, req := range c.byKey {
		out = append(out, viewOf(req))
	}
	return out
}

func (c *Coordinator) expire(id string) {
	c.mu.Lock()
	req := c.byID[id]
	c.mu.Unlock()
	if req == nil {
		return
	}
	if c.resolve(req, StateExpired, Outcome{Source: SourceNone, ChosenIndex: -1}, "no manual input arrived; the automatic reply was used") {
		c.logger.Info("escalation_expired", "conversation_key", req.key, "request_id", req.id)
	}
}

// resolve performs the single terminal transition for req: stop the timer,
// drop it from every index, hand the outcome to the waiter and update the
// external prompt message. Later calls are no-ops.
func (c *Coordinator) resolve(req *request, state State, out Outcome, note string) bool {
	c.mu.Lock()
	if req.resolved {
		c.mu.Unlock()
		return false
	}
	req.resolved = true
	req.state = state
	if req.timer != nil {
		req.timer.Stop()
	}
	delete(c.byID, req.id)
	if c.byKey[req.key] == req {
		delete(c.byKey, req.key)
	}
	prompt := req.prompt
	if !prompt.IsZero() {
		delete(c.byPrompt, prompt)
	}
	c.mu.Unlock()

	req.done <- out
	if !prompt.IsZero() && note != "" {
		c.editPrompt(prompt, note)
	}
	return true
}

func (c *Coordinator) editPrompt(ref messaging.SentRef, note string) {
	editCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.EditMessage(editCtx, ref, note, nil); err != nil {
		c.logger.Warn("escalation_prompt_edit_error", "message_id", ref.MessageID, "error", err.Error())
	}
}

func viewOf(req *request) View {
	return View{
		RequestID:       req.id,
		ConversationKey: req.key,
		Candidates:      append([]string(nil), req.candidates...),
		CreatedAt:       req.createdAt,
		ExpiresAt:       req.expiresAt,
	}
}

func buttonsFor(req *request) []messaging.Button {
	out := make([]messaging.Button, 0, len(req.candidates))
	for i := range req.candidates {
		out = append(out, messaging.Button{
			Label: fmt.Sprintf("Send #%d", i+1),
			Data:  fmt.Sprintf("%s:%d", req.id, i),
		})
	}
	return out
}

func parseButtonData(data string) (string, int, error) {
	cut := strings.LastIndex(data, ":")
	if cut <= 0 || cut == len(data)-1 {
		return "", 0, fmt.Errorf("escalate: button data is invalid: %q", data)
	}
	id := data[:cut]
	idx, err := strconv.Atoi(data[cut+1:])
	if err != nil {
		return "", 0, fmt.Errorf("escalate: button data is invalid: %q", data)
	}
	return id, idx, nil
}

func promptText(key string, candidates []string, window time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s woke up. Pick a reply, or answer this message with your own text.\n", key)
	fmt.Fprintf(&b, "Auto-reply in %s if nothing is chosen.\n\n", window)
	for i, cand := range candidates {
		fmt.Fprintf(&b, "#%d: %s\n", i+1, cand)
	}
	return strings.TrimRight(b.String(), "\n")
}
