package wake

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loadmi/Wyatt-sub000/internal/fsstore"
	"github.com/loadmi/Wyatt-sub000/messaging"
)

const DefaultSleepThreshold = 8 * time.Hour

type record struct {
	LastInteraction time.Time `json:"lastInteraction"`
	ChatID          string    `json:"chatId,omitempty"`
}

type stateFile struct {
	InteractionTracker map[string]record `json:"interactionTracker"`
}

// Tracker records the last successfully delivered reply per conversation and
// decides dormancy. The map is persisted write-through; interaction frequency
// is human conversational cadence, so simplicity wins over throughput.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]record
	threshold time.Duration
	statePath string
	logger    *slog.Logger
	now       func() time.Time
}

type Options struct {
	SleepThreshold time.Duration
	StatePath      string
	Logger         *slog.Logger
	Now            func() time.Time
}

func NewTracker(opts Options) (*Tracker, error) {
	threshold := opts.SleepThreshold
	if threshold <= 0 {
		threshold = DefaultSleepThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	t := &Tracker{
		records:   make(map[string]record),
		threshold: threshold,
		statePath: opts.StatePath,
		logger:    logger,
		now:       now,
	}
	if t.statePath != "" {
		var state stateFile
		found, err := fsstore.ReadJSON(t.statePath, &state)
		if err != nil {
			return nil, fmt.Errorf("load wake state: %w", err)
		}
		if found && state.InteractionTracker != nil {
			t.records = state.InteractionTracker
		}
	}
	return t, nil
}

// IsDormant reports whether the conversation has been quiet past the sleep
// threshold. A conversation with no prior interaction is never dormant.
func (t *Tracker) IsDormant(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	if !ok {
		return false
	}
	return t.now().Sub(rec.LastInteraction) > t.threshold
}

// RecordInteraction marks a successfully delivered reply for key and
// persists the whole map.
func (t *Tracker) RecordInteraction(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[key] = record{
		LastInteraction: t.now().UTC(),
		ChatID:          messaging.ChatIDFromKey(key),
	}
	t.persistLocked()
}

// LastInteraction reports the recorded time for key, if any.
func (t *Tracker) LastInteraction(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	return rec.LastInteraction, ok
}

// Keys returns the tracked conversation keys.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.records))
	for k := range t.records {
		out = append(out, k)
	}
	return out
}

func (t *Tracker) persistLocked() {
	if t.statePath == "" {
		return
	}
	state := stateFile{InteractionTracker: t.records}
	if err := fsstore.WriteJSONAtomic(t.statePath, state); err != nil {
		t.logger.Warn("wake_state_write_error", "path", t.statePath, "error", err.Error())
	}
}
