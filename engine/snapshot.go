package engine

import (
	"sort"
	"time"

	"github.com/loadmi/Wyatt-sub000/escalate"
	"github.com/loadmi/Wyatt-sub000/metrics"
	"github.com/loadmi/Wyatt-sub000/persona"
)

// ConversationStatus is the per-conversation line of the status snapshot.
type ConversationStatus struct {
	ConversationKey   string    `json:"conversationKey"`
	Persona           string    `json:"persona,omitempty"`
	Dormant           bool      `json:"dormant"`
	LastInteractionAt time.Time `json:"lastInteractionAt"`
}

// Snapshot is the operator-facing view of the running system.
type Snapshot struct {
	Conversations []ConversationStatus               `json:"conversations"`
	Escalations   []escalate.View                    `json:"escalations,omitempty"`
	Traffic       map[string]metrics.ContactCounters `json:"traffic,omitempty"`
}

// Snapshot reports every tracked conversation, live escalations and traffic
// counters. It is read-only and safe to call while turns are in flight.
func (o *Orchestrator) Snapshot() Snapshot {
	keys := o.wake.Keys()
	sort.Strings(keys)

	convs := make([]ConversationStatus, 0, len(keys))
	for _, key := range keys {
		last, _ := o.wake.LastInteraction(key)
		status := ConversationStatus{
			ConversationKey:   key,
			Dormant:           o.wake.IsDormant(key),
			LastInteractionAt: last,
		}
		if rec, ok := o.personas.Summary(key); ok {
			status.Persona = rec.PersonaID
		}
		convs = append(convs, status)
	}

	snap := Snapshot{Conversations: convs}
	if o.escalation != nil {
		snap.Escalations = o.escalation.LiveSnapshot()
	}
	if counters, ok := o.metrics.(*metrics.Counters); ok {
		snap.Traffic = counters.Snapshot()
	}
	return snap
}

// SetPersona switches a conversation to another registered persona.
func (o *Orchestrator) SetPersona(key, personaID string) (persona.Record, error) {
	return o.personas.Set(key, personaID)
}

// PersonaSummary reports the persona assignment for key without creating one.
func (o *Orchestrator) PersonaSummary(key string) (persona.Record, bool) {
	return o.personas.Summary(key)
}
