// Package window holds sliding-window call counters for the process call.
// Reserve checks and appends in one step so concurrent callers cannot both
// take the last slot.
package window

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"patientsync/internal/process/models"
)

// InMemoryStore is a per-process sliding window. Use RedisStore when several
// instances must share one budget.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type entry struct {
	token string
	at    time.Time
}

type slidingWindow struct {
	entries []entry
	window  time.Duration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{windows: make(map[string]*slidingWindow)}
}

// Reserve takes a slot in key's window if fewer than limit calls happened in
// the last window.
func (s *InMemoryStore) Reserve(_ context.Context, key string, limit int, window time.Duration, now time.Time) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw := s.getOrCreate(key, window)
	sw.cleanup(now)

	if len(sw.entries) >= limit {
		resetAt := now.Add(window)
		if len(sw.entries) > 0 {
			resetAt = sw.entries[0].at.Add(window)
		}
		return &models.Reservation{
			Allowed: false,
			Count:   len(sw.entries),
			Limit:   limit,
			ResetAt: resetAt,
		}, nil
	}

	// request start times can arrive out of order; keep entries sorted
	token := uuid.NewString()
	i := sort.Search(len(sw.entries), func(i int) bool { return sw.entries[i].at.After(now) })
	sw.entries = slices.Insert(sw.entries, i, entry{token: token, at: now})
	return &models.Reservation{
		Allowed:   true,
		Token:     token,
		Count:     len(sw.entries),
		Limit:     limit,
		Remaining: limit - len(sw.entries),
		ResetAt:   sw.entries[0].at.Add(window),
	}, nil
}

// Release drops a reservation. Unknown tokens are ignored.
func (s *InMemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw := s.windows[key]
	if sw == nil {
		return nil
	}
	for i, e := range sw.entries {
		if e.token == token {
			sw.entries = append(sw.entries[:i], sw.entries[i+1:]...)
			break
		}
	}
	return nil
}

// cleanup drops entries at or before now-window. Reserve keeps entries sorted
// by time, so the expired ones form a prefix.
func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.entries); i++ {
		if sw.entries[i].at.After(cutoff) {
			break
		}
	}
	sw.entries = sw.entries[i:]
}

// getOrCreate must be called with s.mu held.
func (s *InMemoryStore) getOrCreate(key string, window time.Duration) *slidingWindow {
	if sw := s.windows[key]; sw != nil {
		sw.window = window
		return sw
	}
	sw := &slidingWindow{window: window}
	s.windows[key] = sw
	return sw
}
