package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type admission struct {
	id string
	at time.Time
}

// Memory keeps per-user admission timestamps in process memory.
type Memory struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	users    map[string][]admission
}

// NewMemory returns an in-process limiter.
func NewMemory(capacity int, window time.Duration) *Memory {
	return &Memory{
		capacity: capacity,
		window:   window,
		users:    make(map[string][]admission),
	}
}

func (m *Memory) TryAdmit(_ context.Context, userID string, now time.Time) (Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.pruneLocked(userID, now)
	if len(live) >= m.capacity {
		return Ticket{}, false, nil
	}
	ticket := Ticket{UserID: userID, ID: uuid.NewString(), At: now}
	m.users[userID] = append(live, admission{id: ticket.ID, at: now})
	return ticket, true, nil
}

func (m *Memory) Refund(_ context.Context, ticket Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.users[ticket.UserID]
	for i, entry := range entries {
		if entry.id == ticket.ID {
			m.users[ticket.UserID] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(m.users[ticket.UserID]) == 0 {
		delete(m.users, ticket.UserID)
	}
	return nil
}

func (m *Memory) Remaining(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.capacity - len(m.pruneLocked(userID, now))
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// pruneLocked drops admissions that left the window and returns the rest.
func (m *Memory) pruneLocked(userID string, now time.Time) []admission {
	entries := m.users[userID]
	cutoff := now.Add(-m.window)
	kept := entries[:0]
	for _, entry := range entries {
		if entry.at.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(m.users, userID)
		return nil
	}
	m.users[userID] = kept
	return kept
}
