package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
	"github.com/dskvich/gemini-telegram-bot/pkg/history"
	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
)

const DefaultQueueLimit = 3

type Observer interface {
	ObserveActiveSessions(n int)
	ObserveBusy()
}

type noopObserver struct{}

func (noopObserver) ObserveActiveSessions(int) {}
func (noopObserver) ObserveBusy()              {}

type Option func(*Registry)

// WithRepository makes sessions load their history on first use and
// lets Reset delete it.
func WithRepository(repo Repository) Option {
	return func(r *Registry) { r.repo = repo }
}

type SettingsRepository interface {
	GetByUserID(ctx context.Context, userID int64) (*domain.Settings, error)
}

// WithSettings restores the user's chosen system prompt on first use.
func WithSettings(repo SettingsRepository) Option {
	return func(r *Registry) { r.settings = repo }
}

func WithEstimator(e history.Estimator) Option {
	return func(r *Registry) { r.estimator = e }
}

// WithQueueLimit bounds how many events may wait behind the one in flight.
func WithQueueLimit(n int) Option {
	return func(r *Registry) { r.queueLimit = n }
}

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithIdleTTL starts a conversation over when its newest turn is older
// than ttl at the time the next event arrives. Zero keeps history forever.
func WithIdleTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.idleTTL = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session

	repo       Repository
	settings   SettingsRepository
	estimator  history.Estimator
	queueLimit int
	observer   Observer
	idleTTL    time.Duration
	now        func() time.Time
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:   make(map[int64]*Session),
		estimator:  history.HeuristicEstimator{},
		queueLimit: DefaultQueueLimit,
		observer:   noopObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queueLimit < 0 {
		r.queueLimit = 0
	}
	return r
}

func (r *Registry) Repository() Repository { return r.repo }

// Acquire returns the user's session with exclusive use of it until release
// is called. If the session already has the maximum number of events
// queued, it fails with domain.ErrSessionBusy without waiting.
func (r *Registry) Acquire(ctx context.Context, userID int64) (*Session, func(), error) {
	s := r.getOrCreate(userID)

	if int(s.waiting.Add(1)) > r.queueLimit+1 {
		s.waiting.Add(-1)
		r.observer.ObserveBusy()
		return nil, nil, domain.ErrSessionBusy
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.waiting.Add(-1)
		return nil, nil, fmt.Errorf("waiting for session: %w", err)
	}

	s.loadOnce.Do(func() { r.load(ctx, s) })
	r.expireIdle(ctx, s)

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.sem.Release(1)
			s.waiting.Add(-1)
		})
	}
	return s, release, nil
}

// Get returns an existing session without acquiring it.
func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	return s, ok
}

// Reset clears the user's history right away, even while a request is in
// flight. A result of that request can no longer be appended.
func (r *Registry) Reset(ctx context.Context, userID int64) error {
	s := r.getOrCreate(userID)
	return s.reset(ctx, r.repo)
}

// SetSystemPromptRef switches the user's prompt without waiting for an
// in-flight request; it applies from the next request on.
func (r *Registry) SetSystemPromptRef(userID int64, ref string) {
	r.getOrCreate(userID).SetSystemPromptRef(ref)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

func (r *Registry) getOrCreate(userID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		s = newSession(userID, r.estimator)
		r.sessions[userID] = s
		r.observer.ObserveActiveSessions(len(r.sessions))
	}
	return s
}

func (r *Registry) expireIdle(ctx context.Context, s *Session) {
	if r.idleTTL <= 0 {
		return
	}
	last := s.history.LastActivity()
	if last.IsZero() {
		return
	}
	idle := r.now().Sub(last)
	if idle <= r.idleTTL {
		return
	}

	slog.InfoContext(ctx, "conversation expired, starting over", "idle", idle.Round(time.Second))
	if err := s.reset(ctx, r.repo); err != nil {
		slog.WarnContext(ctx, "deleting expired history failed", logger.Err(err))
	}
}

func (r *Registry) load(ctx context.Context, s *Session) {
	if r.settings != nil {
		settings, err := r.settings.GetByUserID(ctx, s.userID)
		switch {
		case err == nil:
			s.SetSystemPromptRef(settings.SystemPromptRef)
		case !errors.Is(err, domain.ErrNotFound):
			slog.WarnContext(ctx, "loading settings failed", logger.Err(err))
		}
	}

	if r.repo == nil {
		return
	}

	turns, err := r.repo.Load(ctx, s.userID)
	if err != nil {
		slog.WarnContext(ctx, "loading persisted history failed, starting empty", logger.Err(err))
		return
	}
	restored, err := s.history.Restore(turns)
	if err != nil {
		slog.WarnContext(ctx, "persisted history is inconsistent, starting empty", logger.Err(err))
		return
	}
	if dropped := len(turns) - restored; dropped > 0 {
		slog.WarnContext(ctx, "dropped unanswered turns from persisted history", "dropped", dropped)
	}
	if restored > 0 {
		slog.InfoContext(ctx, "restored history", "turns", restored)
	}
}
