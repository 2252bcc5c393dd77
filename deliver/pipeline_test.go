package deliver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loadmi/Wyatt-sub000/messaging"
	"github.com/loadmi/Wyatt-sub000/metrics"
)

type fakeSendClient struct {
	mu           sync.Mutex
	sent         []string
	plain        []string
	typingOn     int
	typingOff    int
	failPrimary  bool
	failFallback bool
}

func (f *fakeSendClient) Self(ctx context.Context) (messaging.PeerRef, error) {
	return messaging.PeerRef{}, nil
}

func (f *fakeSendClient) ResolvePeer(ctx context.Context, contact string) (messaging.PeerRef, error) {
	return messaging.PeerRef{}, nil
}

func (f *fakeSendClient) FetchHistoryPage(ctx context.Context, peer messaging.PeerRef, beforeID int64, limit int) ([]messaging.RawMessage, error) {
	return nil, nil
}

func (f *fakeSendClient) SendMessage(ctx context.Context, peer messaging.PeerRef, text string, opts messaging.SendOptions) (messaging.SentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrimary {
		return messaging.SentRef{}, fmt.Errorf("primary path down")
	}
	f.sent = append(f.sent, text)
	return messaging.SentRef{MessageID: int64(len(f.sent))}, nil
}

func (f *fakeSendClient) SendPlain(ctx context.Context, peer messaging.PeerRef, text string) (messaging.SentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFallback {
		return messaging.SentRef{}, fmt.Errorf("fallback path down")
	}
	f.plain = append(f.plain, text)
	return messaging.SentRef{MessageID: int64(len(f.plain))}, nil
}

func (f *fakeSendClient) SendTyping(ctx context.Context, peer messaging.PeerRef, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if active {
		f.typingOn++
	} else {
		f.typingOff++
	}
	return nil
}

func (f *fakeSendClient) EditMessage(ctx context.Context, ref messaging.SentRef, newText string, buttons []messaging.Button) error {
	return nil
}

func (f *fakeSendClient) Subscribe(h messaging.Handlers) {}

func (f *fakeSendClient) counts() (on, off int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typingOn, f.typingOff
}

type fakeWake struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeWake) RecordInteraction(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
}

func (f *fakeWake) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func fastTiming() Timing {
	return Timing{
		ReadDelayMin:    time.Millisecond,
		ReadDelayMax:    2 * time.Millisecond,
		TypingMin:       5 * time.Millisecond,
		TypingMax:       10 * time.Millisecond,
		TypingKeepalive: time.Millisecond,
	}
}

func newTestPipeline(t *testing.T, client *fakeSendClient, wake *fakeWake, counters *metrics.Counters) *Pipeline {
	t.Helper()
	p, err := NewPipeline(Options{
		Client:  client,
		Wake:    wake,
		Metrics: counters,
		Timing:  fastTiming(),
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p
}

func TestDeliverSendsAndRecords(t *testing.T) {
	client := &fakeSendClient{}
	wake := &fakeWake{}
	counters := metrics.NewCounters()
	p := newTestPipeline(t, client, wake, counters)

	start := time.Now().Add(-time.Second)
	if err := p.Deliver(context.Background(), "dm:1", messaging.PeerRef{ID: 1}, "hello", start, "auto"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if len(client.sent) != 1 || client.sent[0] != "hello" {
		t.Fatalf("sent = %v", client.sent)
	}
	if got := wake.recorded(); len(got) != 1 || got[0] != "dm:1" {
		t.Fatalf("wake records = %v", got)
	}
	snap := counters.Snapshot()["dm:1"]
	if snap.Outbound != 1 {
		t.Fatalf("outbound count = %d, want 1", snap.Outbound)
	}
	if snap.TotalLatency < time.Second {
		t.Fatalf("latency = %v, want >= 1s (measured from compose start)", snap.TotalLatency)
	}
}

func TestDeliverEmitsAndCancelsTyping(t *testing.T) {
	client := &fakeSendClient{}
	wake := &fakeWake{}
	p := newTestPipeline(t, client, wake, metrics.NewCounters())

	if err := p.Deliver(context.Background(), "dm:1", messaging.PeerRef{ID: 1}, "hello", time.Now(), "auto"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	on, off := client.counts()
	if on < 2 {
		t.Fatalf("typing signals = %d, want at least the initial one plus a keepalive", on)
	}
	if off != 1 {
		t.Fatalf("typing cancelled %d times, want exactly 1", off)
	}
}

func TestDeliverFallsBackOnPrimaryFailure(t *testing.T) {
	client := &fakeSendClient{failPrimary: true}
	wake := &fakeWake{}
	counters := metrics.NewCounters()
	p := newTestPipeline(t, client, wake, counters)

	if err := p.Deliver(context.Background(), "dm:1", messaging.PeerRef{ID: 1}, "hello", time.Now(), "auto"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(client.plain) != 1 || client.plain[0] != "hello" {
		t.Fatalf("fallback sends = %v", client.plain)
	}
	if got := wake.recorded(); len(got) != 1 {
		t.Fatalf("wake records = %v, fallback success must still count", got)
	}
}

func TestDeliverTerminalFailureLeavesStateUntouched(t *testing.T) {
	client := &fakeSendClient{failPrimary: true, failFallback: true}
	wake := &fakeWake{}
	counters := metrics.NewCounters()
	p := newTestPipeline(t, client, wake, counters)

	err := p.Deliver(context.Background(), "dm:1", messaging.PeerRef{ID: 1}, "hello", time.Now(), "auto")
	if err == nil {
		t.Fatalf("Deliver() should fail when both send paths fail")
	}
	if got := wake.recorded(); len(got) != 0 {
		t.Fatalf("wake records = %v, want none on terminal failure", got)
	}
	if snap := counters.Snapshot()["dm:1"]; snap.Outbound != 0 {
		t.Fatalf("outbound count = %d, want 0", snap.Outbound)
	}
	// Typing must still be cancelled exactly once.
	_, off := client.counts()
	if off != 1 {
		t.Fatalf("typing cancelled %d times, want exactly 1", off)
	}
}

func TestDeliverRespectsContextCancellation(t *testing.T) {
	client := &fakeSendClient{}
	wake := &fakeWake{}
	p, err := NewPipeline(Options{
		Client:  client,
		Wake:    wake,
		Metrics: metrics.NewCounters(),
		Timing: Timing{
			ReadDelayMin:    time.Hour,
			ReadDelayMax:    2 * time.Hour,
			TypingKeepalive: time.Second,
		},
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Deliver(ctx, "dm:1", messaging.PeerRef{ID: 1}, "hello", time.Now(), "auto"); err == nil {
		t.Fatalf("Deliver() should fail on cancelled context")
	}
	if len(client.sent) != 0 {
		t.Fatalf("nothing should be sent after cancellation")
	}
}
