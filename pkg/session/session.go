// Package session keeps one conversation per user and serializes the work
// done on it.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
	"github.com/dskvich/gemini-telegram-bot/pkg/history"
)

type Repository interface {
	Load(ctx context.Context, userID int64) ([]domain.Turn, error)
	Save(ctx context.Context, userID int64, turns []domain.Turn) error
	Delete(ctx context.Context, userID int64) error
}

type Session struct {
	userID  int64
	history *history.History

	// sem admits one event at a time; waiting counts events holding or
	// waiting for it.
	sem     *semaphore.Weighted
	waiting atomic.Int32

	loadOnce sync.Once

	// persistMu orders saves against resets so a reset is never undone by
	// a save of an older snapshot.
	persistMu sync.Mutex

	mu        sync.Mutex
	promptRef string
}

func newSession(userID int64, estimator history.Estimator) *Session {
	return &Session{
		userID:  userID,
		history: history.New(estimator),
		sem:     semaphore.NewWeighted(1),
	}
}

func (s *Session) UserID() int64 { return s.userID }

func (s *Session) History() *history.History { return s.history }

// SystemPromptRef is the prompt chosen by the user, empty when the
// configured default applies.
func (s *Session) SystemPromptRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.promptRef
}

// SetSystemPromptRef takes effect on the next request. Stored turns are
// not touched.
func (s *Session) SetSystemPromptRef(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promptRef = ref
}

// LinkMessages records the platform messages a turn was delivered as.
func (s *Session) LinkMessages(turnID string, messageIDs ...int) bool {
	return s.history.LinkMessages(turnID, messageIDs...)
}

// Persist saves the current history.
func (s *Session) Persist(ctx context.Context, repo Repository) error {
	if repo == nil {
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if err := repo.Save(ctx, s.userID, s.history.Snapshot().Turns); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}

func (s *Session) reset(ctx context.Context, repo Repository) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	// A session reset before its first event must not pick up the old
	// persisted history afterwards.
	s.loadOnce.Do(func() {})
	s.history.Clear()

	if repo == nil {
		return nil
	}
	if err := repo.Delete(ctx, s.userID); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	return nil
}
