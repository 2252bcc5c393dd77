package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
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

const DefaultMaxConcurrency = 8

// Orchestrator wires inbound events to the reply flow: history, persona,
// completion, optional human escalation, delivery. Turns run concurrently
// under a global bound; turns for the same conversation are deliberately
// NOT serialized, so a newer message can supersede an escalation still
// waiting on the reviewer.
type Orchestrator struct {
	logger         *slog.Logger
	client         messaging.Client
	llm            llm.Client
	model          string
	history        *chatlog.Store
	personas       *persona.Service
	wake           *wake.Tracker
	escalation     *escalate.Coordinator
	pipeline       *deliver.Pipeline
	metrics        metrics.Recorder
	self           messaging.PeerRef
	candidateCount int
	sem            chan struct{}
	wg             sync.WaitGroup
}

type Options struct {
	Logger   *slog.Logger
	Client   messaging.Client
	LLM      llm.Client
	Model    string
	History  *chatlog.Store
	Personas *persona.Service
	Wake     *wake.Tracker
	// Escalation is optional; without it dormant conversations are answered
	// automatically like any other.
	Escalation     *escalate.Coordinator
	Pipeline       *deliver.Pipeline
	Metrics        metrics.Recorder
	Self           messaging.PeerRef
	MaxConcurrency int
	CandidateCount int
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("engine: messaging client is required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("engine: llm client is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("engine: chat log store is required")
	}
	if opts.Personas == nil {
		return nil, fmt.Errorf("engine: persona service is required")
	}
	if opts.Wake == nil {
		return nil, fmt.Errorf("engine: wake tracker is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("engine: delivery pipeline is required")
	}
	if opts.Metrics == nil {
		return nil, fmt.Errorf("engine: metrics recorder is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	candidateCount := opts.CandidateCount
	if candidateCount <= 0 {
		candidateCount = escalate.DefaultCandidateCount
	}
	return &Orchestrator{
		logger:         logger,
		client:         opts.Client,
		llm:            opts.LLM,
		model:          opts.Model,
		history:        opts.History,
		personas:       opts.Personas,
		wake:           opts.Wake,
		escalation:     opts.Escalation,
		pipeline:       opts.Pipeline,
		metrics:        opts.Metrics,
		self:           opts.Self,
		candidateCount: candidateCount,
		sem:            make(chan struct{}, maxConcurrency),
	}, nil
}

// Run subscribes to the messaging client and blocks until ctx is cancelled,
// then waits for in-flight turns to drain.
func (o *Orchestrator) Run(ctx context.Context) {
	o.client.Subscribe(messaging.Handlers{
		OnMessage:     func(msg messaging.InboundMessage) { o.handleMessage(ctx, msg) },
		OnButtonClick: o.handleButton,
	})
	o.logger.Info("orchestrator_started",
		"self_id", o.self.ID,
		"self_username", o.self.Username,
		"max_concurrency", cap(o.sem),
		"escalation_enabled", o.escalation != nil,
	)
	<-ctx.Done()
	o.wg.Wait()
	o.logger.Info("orchestrator_stopped")
}

func (o *Orchestrator) handleMessage(ctx context.Context, msg messaging.InboundMessage) {
	job, ok := o.routeMessage(msg)
	if !ok {
		return
	}
	o.metrics.RecordInbound(job.key)
	o.logger.Info("inbound_accepted",
		"conversation_key", job.key,
		"trigger", job.trigger,
		"message_id", msg.MessageID,
		"text_len", len(msg.Text),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-o.sem }()
		o.runTurn(ctx, job)
	}()
}

func (o *Orchestrator) handleButton(click messaging.ButtonClick) {
	if o.escalation == nil {
		return
	}
	if err := o.escalation.HandleButton(click); err != nil {
		o.logger.Warn("button_click_rejected", "from_id", click.FromID, "error", err.Error())
	}
}

// runTurn is the full life of one accepted message: build context, complete,
// possibly escalate, deliver. Dormancy is decided before delivery refreshes
// the interaction record.
func (o *Orchestrator) runTurn(ctx context.Context, job turnJob) {
	started := time.Now()

	history := o.history.Get(ctx, job.key, job.peer)
	rec, err := o.personas.Resolve(job.key)
	if err != nil {
		o.logger.Error("persona_resolve_error", "conversation_key", job.key, "error", err.Error())
		return
	}
	msgs := composeMessages(rec.SystemPrompt, history, job.msg.Text)
	dormant := o.wake.IsDormant(job.key)

	auto, autoErr := o.complete(ctx, msgs)
	if autoErr != nil {
		o.logger.Warn("completion_error", "conversation_key", job.key, "persona", rec.PersonaID, "error", autoErr.Error())
	}

	text := auto
	label := "auto"

	if dormant && o.escalation != nil {
		o.logger.Info("conversation_woke", "conversation_key", job.key, "persona", rec.PersonaID)
		sampled, err := llm.SampleReplies(ctx, o.llm, o.model, msgs, o.candidateCount)
		if err != nil {
			o.logger.Warn("candidate_sample_error", "conversation_key", job.key, "error", err.Error())
		}
		candidates := escalate.BuildCandidates(sampled, o.candidateCount)

		out := o.escalation.Offer(ctx, job.key, candidates)
		switch {
		case out.Superseded:
			// A newer message owns this conversation now; this turn ends
			// without sending anything.
			o.logger.Info("turn_abandoned", "conversation_key", job.key, "reason", "superseded")
			return
		case out.Source == escalate.SourceSelection || out.Source == escalate.SourceFreeform:
			text = out.Text
			label = string(out.Source)
		default:
			if text == "" {
				text = candidates[0]
				label = "fallback"
			}
		}
	}

	if text == "" {
		o.logger.Warn("turn_abandoned", "conversation_key", job.key, "reason", "no_reply_text")
		return
	}
	// Delivery failures are logged and recorded inside the pipeline.
	_ = o.pipeline.Deliver(ctx, job.key, job.peer, text, started, label)
}

func (o *Orchestrator) complete(ctx context.Context, msgs []llm.Message) (string, error) {
	res, err := o.llm.Chat(ctx, llm.Request{Model: o.model, Messages: msgs})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}
