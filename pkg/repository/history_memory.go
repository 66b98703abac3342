package repository

import (
	"context"
	"sync"
	"time"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type historyEntry struct {
	turns      []domain.Turn
	lastUpdate time.Time
}

// memoryHistoryRepository keeps histories in process memory. A history not
// saved for longer than ttl is dropped; zero ttl keeps it forever.
type memoryHistoryRepository struct {
	mu        sync.RWMutex
	histories map[int64]historyEntry
	ttl       time.Duration
	now       func() time.Time
}

func NewMemoryHistoryRepository(ttl time.Duration) *memoryHistoryRepository {
	return &memoryHistoryRepository{
		histories: make(map[int64]historyEntry),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (m *memoryHistoryRepository) Load(_ context.Context, userID int64) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.histories[userID]
	if !ok || m.expired(entry) {
		return nil, nil
	}
	return cloneTurns(entry.turns), nil
}

func (m *memoryHistoryRepository) Save(_ context.Context, userID int64, turns []domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Drop expired histories while holding the lock anyway.
	for id, entry := range m.histories {
		if m.expired(entry) {
			delete(m.histories, id)
		}
	}

	m.histories[userID] = historyEntry{
		turns:      cloneTurns(turns),
		lastUpdate: m.now(),
	}
	return nil
}

func (m *memoryHistoryRepository) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.histories, userID)
	return nil
}

func (m *memoryHistoryRepository) expired(entry historyEntry) bool {
	return m.ttl > 0 && m.now().Sub(entry.lastUpdate) > m.ttl
}

func cloneTurns(turns []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}
