package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/loadmi/Wyatt-sub000/messaging"
	"github.com/loadmi/Wyatt-sub000/metrics"
)

const DefaultTypingKeepalive = 4 * time.Second

type WakeRecorder interface {
	RecordInteraction(key string)
}

// Timing is the human-cadence envelope for one delivery: a silent
// read/think window, then a visible typing window.
type Timing struct {
	ReadDelayMin time.Duration
	ReadDelayMax time.Duration
	TypingMin    time.Duration
	TypingMax    time.Duration
	// Keepalive must refresh faster than the platform's typing-indicator
	// expiry.
	TypingKeepalive time.Duration
}

// Pipeline delivers a composed reply with human-like timing. The same path
// serves automatic and manually overridden replies; only the text and the
// log label differ.
type Pipeline struct {
	client  messaging.Client
	wake    WakeRecorder
	metrics metrics.Recorder
	timing  Timing
	logger  *slog.Logger
	rng     *rand.Rand
	rngMu   sync.Mutex
}

type Options struct {
	Client  messaging.Client
	Wake    WakeRecorder
	Metrics metrics.Recorder
	Timing  Timing
	Logger  *slog.Logger
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("deliver: messaging client is required")
	}
	if opts.Wake == nil {
		return nil, fmt.Errorf("deliver: wake recorder is required")
	}
	if opts.Metrics == nil {
		return nil, fmt.Errorf("deliver: metrics recorder is required")
	}
	timing := opts.Timing
	if timing.TypingKeepalive <= 0 {
		timing.TypingKeepalive = DefaultTypingKeepalive
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client:  opts.Client,
		wake:    opts.Wake,
		metrics: opts.Metrics,
		timing:  timing,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Deliver runs the three delivery phases: silent wait, typing, send. On
// terminal send failure the turn is abandoned: no wake record, no outbound
// metric, so the conversation still looks untouched to the next turn.
func (p *Pipeline) Deliver(ctx context.Context, key string, peer messaging.PeerRef, text string, composeStartedAt time.Time, label string) error {
	if err := p.sleep(ctx, p.randomBetween(p.timing.ReadDelayMin, p.timing.ReadDelayMax)); err != nil {
		return err
	}

	if err := p.typePhase(ctx, peer); err != nil {
		return err
	}

	if _, err := p.client.SendMessage(ctx, peer, text, messaging.SendOptions{}); err != nil {
		p.logger.Warn("delivery_send_error", "conversation_key", key, "label", label, "error", err.Error())
		if _, err2 := p.client.SendPlain(ctx, peer, text); err2 != nil {
			p.logger.Error("delivery_send_failed", "conversation_key", key, "label", label, "error", err2.Error())
			return fmt.Errorf("deliver %s: %w", key, err2)
		}
	}

	latency := time.Since(composeStartedAt)
	p.metrics.RecordOutbound(key, latency)
	p.wake.RecordInteraction(key)
	p.logger.Info("delivery_sent", "conversation_key", key, "label", label, "latency_ms", latency.Milliseconds(), "text_len", len(text))
	return nil
}

// typePhase keeps the typing indicator alive for a random window and always
// cancels it exactly once.
func (p *Pipeline) typePhase(ctx context.Context, peer messaging.PeerRef) error {
	stop := p.startTypingTicker(ctx, peer)
	defer stop()
	return p.sleep(ctx, p.randomBetween(p.timing.TypingMin, p.timing.TypingMax))
}

func (p *Pipeline) startTypingTicker(ctx context.Context, peer messaging.PeerRef) func() {
	ticker := time.NewTicker(p.timing.TypingKeepalive)
	done := make(chan struct{})

	go func() {
		_ = p.client.SendTyping(ctx, peer, true)
		for {
			select {
			case <-ticker.C:
				_ = p.client.SendTyping(ctx, peer, true)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = p.client.SendTyping(cancelCtx, peer, false)
		})
	}
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}
