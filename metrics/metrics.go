package metrics

import (
	"sync"
	"time"
)

// Recorder is the one-way recording boundary consumed by the orchestrator.
// Aggregation and exposition live elsewhere.
type Recorder interface {
	RecordInbound(contactID string)
	RecordOutbound(contactID string, latency time.Duration)
}

type ContactCounters struct {
	Inbound      int64
	Outbound     int64
	TotalLatency time.Duration
}

// Counters is the default in-process Recorder.
type Counters struct {
	mu       sync.Mutex
	contacts map[string]ContactCounters
}

func NewCounters() *Counters {
	return &Counters{contacts: make(map[string]ContactCounters)}
}

func (c *Counters) RecordInbound(contactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.contacts[contactID]
	cur.Inbound++
	c.contacts[contactID] = cur
}

func (c *Counters) RecordOutbound(contactID string, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.contacts[contactID]
	cur.Outbound++
	cur.TotalLatency += latency
	c.contacts[contactID] = cur
}

func (c *Counters) Snapshot() map[string]ContactCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ContactCounters, len(c.contacts))
	for k, v := range c.contacts {
		out[k] = v
	}
	return out
}
