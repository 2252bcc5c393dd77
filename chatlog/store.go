package chatlog

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loadmi/Wyatt-sub000/messaging"
)

const DefaultPageSize = 100

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Entry is one message in a conversation log, ordered by platform message id.
type Entry struct {
	ID        int64
	SentAt    time.Time
	Direction Direction
	Text      string
}

type HistoryFetcher interface {
	FetchHistoryPage(ctx context.Context, peer messaging.PeerRef, beforeID int64, limit int) ([]messaging.RawMessage, error)
}

// Store keeps an append-only, id-ordered message log per conversation.
// Logs are warmed from full history once, then extended incrementally.
type Store struct {
	mu       sync.Mutex
	logs     map[string][]Entry
	fetcher  HistoryFetcher
	pageSize int
	logger   *slog.Logger
}

type Options struct {
	Fetcher  HistoryFetcher
	PageSize int
	Logger   *slog.Logger
}

func NewStore(opts Options) *Store {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logs:     make(map[string][]Entry),
		fetcher:  opts.Fetcher,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Get returns the conversation log for key, fetching what is missing. A
// fetch failure degrades to the previously cached log; Get never fails.
func (s *Store) Get(ctx context.Context, key string, peer messaging.PeerRef) []Entry {
	s.mu.Lock()
	cached := s.logs[key]
	maxID := int64(0)
	if n := len(cached); n > 0 {
		maxID = cached[n-1].ID
	}
	s.mu.Unlock()

	fetched, err := s.fetchSince(ctx, peer, maxID)
	if err != nil {
		s.logger.Warn("chat_history_fetch_error", "conversation_key", key, "cached", len(cached), "error", err.Error())
		return copyEntries(cached)
	}
	if len(fetched) == 0 {
		return copyEntries(cached)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.logs[key]
	curMax := int64(0)
	if n := len(cur); n > 0 {
		curMax = cur[n-1].ID
	}
	for _, e := range fetched {
		if e.ID > curMax {
			cur = append(cur, e)
		}
	}
	sort.Slice(cur, func(i, j int) bool { return cur[i].ID < cur[j].ID })
	s.logs[key] = cur
	return copyEntries(cur)
}

// Len reports the cached log size for key.
func (s *Store) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[key])
}

// fetchSince pages backwards from the latest message until a short page or
// until every remaining message is at or below sinceID. sinceID == 0 walks
// the full history.
func (s *Store) fetchSince(ctx context.Context, peer messaging.PeerRef, sinceID int64) ([]Entry, error) {
	var out []Entry
	beforeID := int64(0)
	for {
		page, err := s.fetcher.FetchHistoryPage(ctx, peer, beforeID, s.pageSize)
		if err != nil {
			return nil, err
		}
		reachedKnown := false
		minID := int64(0)
		for _, raw := range page {
			if minID == 0 || raw.ID < minID {
				minID = raw.ID
			}
			if raw.ID <= sinceID {
				reachedKnown = true
				continue
			}
			text := strings.TrimSpace(raw.Text)
			if text == "" {
				// No resolvable text payload; drop rather than cache a placeholder.
				continue
			}
			out = append(out, Entry{
				ID:        raw.ID,
				SentAt:    raw.SentAt,
				Direction: directionFor(raw),
				Text:      text,
			})
		}
		if len(page) < s.pageSize || reachedKnown {
			break
		}
		beforeID = minID
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func directionFor(raw messaging.RawMessage) Direction {
	if raw.Outgoing {
		return DirectionOutbound
	}
	return DirectionInbound
}

func copyEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
