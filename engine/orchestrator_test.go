package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loadmi/Wyatt-sub000/chatlog"
	"github.com/loadmi/Wyatt-sub000/deliver"
	"github.com/loadmi/Wyatt-sub000/escalate"
	"github.com/loadmi/Wyatt-sub000/llm"
	"github.com/loadmi/Wyatt-sub000/messaging"
	"github.com/loadmi/Wyatt-sub000/metrics"
	"github.com/loadmi/Wyatt-sub000/persona"
	"github.com/loadmi/Wyatt-sub000/wake"
)

const (
	testSelfID     = int64(1)
	testReviewerID = int64(99)
)

type sentItem struct {
	Peer    messaging.PeerRef
	Text    string
	Buttons []messaging.Button
	Ref     messaging.SentRef
}

// fakeChatClient serves both roles a real client has: the conversation peer
// and the reviewer. Sends are routed to separate channels by peer id.
type fakeChatClient struct {
	mu        sync.Mutex
	nextID    int64
	chatSends chan sentItem
	prompts   chan sentItem
	edits     map[int64]string
	handlers  messaging.Handlers
}

func newFakeChatClient() *fakeChatClient {
	return &fakeChatClient{
		chatSends: make(chan sentItem, 16),
		prompts:   make(chan sentItem, 16),
		edits:     make(map[int64]string),
	}
}

func (f *fakeChatClient) Self(ctx context.Context) (messaging.PeerRef, error) {
	return messaging.PeerRef{ID: testSelfID, Username: "wyatt"}, nil
}

func (f *fakeChatClient) ResolvePeer(ctx context.Context, contact string) (messaging.PeerRef, error) {
	return messaging.PeerRef{ID: testReviewerID}, nil
}

func (f *fakeChatClient) FetchHistoryPage(ctx context.Context, peer messaging.PeerRef, beforeID int64, limit int) ([]messaging.RawMessage, error) {
	return nil, nil
}

func (f *fakeChatClient) SendMessage(ctx context.Context, peer messaging.PeerRef, text string, opts messaging.SendOptions) (messaging.SentRef, error) {
	f.mu.Lock()
	f.nextID++
	item := sentItem{
		Peer:    peer,
		Text:    text,
		Buttons: opts.Buttons,
		Ref:     messaging.SentRef{PeerID: peer.ID, MessageID: f.nextID},
	}
	f.mu.Unlock()
	if peer.ID == testReviewerID {
		f.prompts <- item
	} else {
		f.chatSends <- item
	}
	return item.Ref, nil
}

func (f *fakeChatClient) SendPlain(ctx context.Context, peer messaging.PeerRef, text string) (messaging.SentRef, error) {
	return f.SendMessage(ctx, peer, text, messaging.SendOptions{})
}

func (f *fakeChatClient) SendTyping(ctx context.Context, peer messaging.PeerRef, active bool) error {
	return nil
}

func (f *fakeChatClient) EditMessage(ctx context.Context, ref messaging.SentRef, newText string, buttons []messaging.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[ref.MessageID] = newText
	return nil
}

func (f *fakeChatClient) Subscribe(h messaging.Handlers) {
	f.handlers = h
}

// fakeModel answers normal completions with auto and pops one entry from
// samples for each high-temperature sampling call.
type fakeModel struct {
	mu      sync.Mutex
	auto    string
	samples []string
	fail    bool
}

func (m *fakeModel) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return llm.Result{}, fmt.Errorf("model unavailable")
	}
	if _, sampling := req.Parameters["temperature"]; sampling {
		if len(m.samples) == 0 {
			return llm.Result{}, nil
		}
		next := m.samples[0]
		m.samples = m.samples[1:]
		return llm.Result{Text: next}, nil
	}
	return llm.Result{Text: m.auto}, nil
}

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

type harness struct {
	client  *fakeChatClient
	model   *fakeModel
	clock   *fakeClock
	tracker *wake.Tracker
	orch    *Orchestrator
	metrics *metrics.Counters
}

func newHarness(t *testing.T, model *fakeModel, reviewWindow time.Duration) *harness {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := newFakeChatClient()
	clock := &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	registry, err := persona.NewRegistry([]persona.Definition{
		{ID: "friendly", Name: "Friendly", SystemPrompt: "You are a relaxed, friendly texter."},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	personas, err := persona.NewService(persona.ServiceOptions{
		Registry:  registry,
		DefaultID: "friendly",
		Logger:    quiet,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	tracker, err := wake.NewTracker(wake.Options{
		SleepThreshold: 8 * time.Hour,
		Logger:         quiet,
		Now:            clock.now,
	})
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	counters := metrics.NewCounters()
	pipeline, err := deliver.NewPipeline(deliver.Options{
		Client:  client,
		Wake:    tracker,
		Metrics: counters,
		Timing: deliver.Timing{
			ReadDelayMin:    time.Millisecond,
			ReadDelayMax:    2 * time.Millisecond,
			TypingMin:       time.Millisecond,
			TypingMax:       2 * time.Millisecond,
			TypingKeepalive: time.Millisecond,
		},
		Logger: quiet,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	var coordinator *escalate.Coordinator
	if reviewWindow > 0 {
		coordinator, err = escalate.NewCoordinator(escalate.Options{
			Client:       client,
			Reviewer:     messaging.PeerRef{ID: testReviewerID, Username: "reviewer"},
			ReviewWindow: reviewWindow,
			Logger:       quiet,
		})
		if err != nil {
			t.Fatalf("NewCoordinator() error = %v", err)
		}
	}

	orch, err := New(Options{
		Logger:     quiet,
		Client:     client,
		LLM:        model,
		Model:      "test-model",
		History:    chatlog.NewStore(chatlog.Options{Fetcher: client, Logger: quiet}),
		Personas:   personas,
		Wake:       tracker,
		Escalation: coordinator,
		Pipeline:   pipeline,
		Metrics:    counters,
		Self:       messaging.PeerRef{ID: testSelfID, Username: "wyatt"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{client: client, model: model, clock: clock, tracker: tracker, orch: orch, metrics: counters}
}

func directMessage(fromID int64, text string) messaging.InboundMessage {
	return messaging.InboundMessage{
		ChatID:   fromID,
		ChatType: messaging.ChatTypeDirect,
		FromID:   fromID,
		Text:     text,
	}
}

func waitSent(t *testing.T, ch chan sentItem) sentItem {
	t.Helper()
	select {
	case item := <-ch:
		return item
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a send that never happened")
		return sentItem{}
	}
}

func waitTurns(t *testing.T, h *harness) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.orch.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("turns never drained")
	}
}

func TestFreshConversationAnswersAutomatically(t *testing.T) {
	h := newHarness(t, &fakeModel{auto: "hey, good to hear from you"}, time.Minute)

	h.orch.handleMessage(context.Background(), directMessage(42, "hello?"))
	sent := waitSent(t, h.client.chatSends)
	waitTurns(t, h)

	if sent.Peer.ID != 42 || sent.Text != "hey, good to hear from you" {
		t.Fatalf("sent = %+v", sent)
	}
	if h.tracker.IsDormant("dm:42") {
		t.Fatalf("delivery must refresh the interaction record")
	}
	snap := h.metrics.Snapshot()["dm:42"]
	if snap.Inbound != 1 || snap.Outbound != 1 {
		t.Fatalf("counters = %+v", snap)
	}
}

func TestDormantConversationDeliversReviewerSelection(t *testing.T) {
	h := newHarness(t, &fakeModel{
		auto:    "auto reply",
		samples: []string{"candidate one", "candidate two", "candidate three"},
	}, time.Minute)

	h.tracker.RecordInteraction("dm:42")
	h.clock.advance(9 * time.Hour)

	h.orch.handleMessage(context.Background(), directMessage(42, "you still there?"))
	prompt := waitSent(t, h.client.prompts)
	if len(prompt.Buttons) != 3 {
		t.Fatalf("prompt has %d buttons, want 3", len(prompt.Buttons))
	}

	h.orch.handleButton(messaging.ButtonClick{FromID: testReviewerID, Data: prompt.Buttons[1].Data})
	sent := waitSent(t, h.client.chatSends)
	waitTurns(t, h)

	if sent.Text != "candidate two" {
		t.Fatalf("sent = %q, want the chosen candidate", sent.Text)
	}
}

func TestDormantConversationFallsBackToAutoOnExpiry(t *testing.T) {
	h := newHarness(t, &fakeModel{
		auto:    "auto reply",
		samples: []string{"candidate one", "candidate two", "candidate three"},
	}, 30*time.Millisecond)

	h.tracker.RecordInteraction("dm:42")
	h.clock.advance(9 * time.Hour)

	h.orch.handleMessage(context.Background(), directMessage(42, "hello again"))
	_ = waitSent(t, h.client.prompts)
	sent := waitSent(t, h.client.chatSends)
	waitTurns(t, h)

	if sent.Text != "auto reply" {
		t.Fatalf("sent = %q, want the automatic reply after expiry", sent.Text)
	}
}

func TestSupersededTurnIsNeverDelivered(t *testing.T) {
	h := newHarness(t, &fakeModel{
		auto: "auto reply",
		samples: []string{
			"first one", "first two", "first three",
			"second one", "second two", "second three",
		},
	}, time.Minute)

	h.tracker.RecordInteraction("dm:42")
	h.clock.advance(9 * time.Hour)

	h.orch.handleMessage(context.Background(), directMessage(42, "hey"))
	_ = waitSent(t, h.client.prompts)

	h.orch.handleMessage(context.Background(), directMessage(42, "hey?? are you ignoring me"))
	secondPrompt := waitSent(t, h.client.prompts)

	h.orch.handleButton(messaging.ButtonClick{FromID: testReviewerID, Data: secondPrompt.Buttons[0].Data})
	sent := waitSent(t, h.client.chatSends)
	waitTurns(t, h)

	if sent.Text != "second one" {
		t.Fatalf("sent = %q, want the second turn's chosen candidate", sent.Text)
	}
	select {
	case extra := <-h.client.chatSends:
		t.Fatalf("superseded turn delivered %q", extra.Text)
	default:
	}
}

func TestDormantTurnUsesFirstCandidateWhenCompletionFails(t *testing.T) {
	h := newHarness(t, &fakeModel{fail: true}, 30*time.Millisecond)

	h.tracker.RecordInteraction("dm:42")
	h.clock.advance(9 * time.Hour)

	h.orch.handleMessage(context.Background(), directMessage(42, "hello"))
	_ = waitSent(t, h.client.prompts)
	sent := waitSent(t, h.client.chatSends)
	waitTurns(t, h)

	// Sampling failed too, so the stock fallback list fills the candidates
	// and the first one is delivered.
	if sent.Text == "" {
		t.Fatalf("expected a fallback candidate delivery")
	}
}

func TestNonDormantCompletionFailureAbandonsTurn(t *testing.T) {
	h := newHarness(t, &fakeModel{fail: true}, time.Minute)

	h.orch.handleMessage(context.Background(), directMessage(42, "hello"))
	waitTurns(t, h)

	select {
	case extra := <-h.client.chatSends:
		t.Fatalf("failed turn delivered %q", extra.Text)
	default:
	}
	if h.tracker.IsDormant("dm:42") {
		t.Fatalf("no record should exist, so the conversation is not dormant")
	}
}

func TestSnapshotReportsConversations(t *testing.T) {
	h := newHarness(t, &fakeModel{auto: "hi"}, time.Minute)

	h.orch.handleMessage(context.Background(), directMessage(42, "hello"))
	_ = waitSent(t, h.client.chatSends)
	waitTurns(t, h)

	snap := h.orch.Snapshot()
	if len(snap.Conversations) != 1 {
		t.Fatalf("snapshot has %d conversations, want 1", len(snap.Conversations))
	}
	conv := snap.Conversations[0]
	if conv.ConversationKey != "dm:42" || conv.Dormant || conv.Persona != "friendly" {
		t.Fatalf("conversation status = %+v", conv)
	}
	if snap.Traffic["dm:42"].Outbound != 1 {
		t.Fatalf("traffic = %+v", snap.Traffic)
	}
}
