package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type memoryRepo struct {
	mu    sync.Mutex
	turns map[int64][]domain.Turn
	loads int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{turns: make(map[int64][]domain.Turn)}
}

func (m *memoryRepo) Load(_ context.Context, userID int64) ([]domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.turns[userID], nil
}

func (m *memoryRepo) Save(_ context.Context, userID int64, turns []domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[userID] = turns
	return nil
}

func (m *memoryRepo) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, userID)
	return nil
}

func exchange(id string) []domain.Turn {
	return []domain.Turn{
		{ID: id + "-u", Role: domain.RoleUser, Parts: []domain.ContentPart{domain.TextPart("q")}},
		{ID: id + "-m", Role: domain.RoleModel, Parts: []domain.ContentPart{domain.TextPart("a")}},
	}
}

func TestAcquireLoadsPersistedHistoryOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.turns[1] = exchange("e1")
	r := NewRegistry(WithRepository(repo))

	for range 3 {
		s, release, err := r.Acquire(context.Background(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if s.History().Len() != 2 {
			t.Errorf("expected restored history of 2 turns, got %d", s.History().Len())
		}
		release()
	}
	if repo.loads != 1 {
		t.Errorf("expected a single load, got %d", repo.loads)
	}
}

func TestAcquireRejectsWhenQueueIsFull(t *testing.T) {
	r := NewRegistry(WithQueueLimit(1))
	ctx := context.Background()

	_, release, err := r.Acquire(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	queued := make(chan error, 1)
	go func() {
		_, rel, err := r.Acquire(ctx, 1)
		if err == nil {
			rel()
		}
		queued <- err
	}()

	// Wait until the second event is queued behind the first.
	s, _ := r.Get(1)
	deadline := time.Now().Add(2 * time.Second)
	for s.waiting.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second event never queued")
		}
		time.Sleep(time.Millisecond)
	}

	if _, _, err := r.Acquire(ctx, 1); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("expected busy error, got %v", err)
	}

	// Other users are not affected.
	if _, rel, err := r.Acquire(ctx, 2); err != nil {
		t.Errorf("other user was blocked: %v", err)
	} else {
		rel()
	}

	release()
	if err := <-queued; err != nil {
		t.Errorf("queued event failed: %v", err)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	r := NewRegistry()
	_, release, err := r.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := r.Acquire(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}

	s, _ := r.Get(1)
	if got := s.waiting.Load(); got != 1 {
		t.Errorf("abandoned wait left counter at %d", got)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	_, release, err := r.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()

	s, _ := r.Get(1)
	if got := s.waiting.Load(); got != 0 {
		t.Errorf("expected counter 0, got %d", got)
	}
}

func TestResetWhileInFlight(t *testing.T) {
	repo := newMemoryRepo()
	repo.turns[1] = exchange("e1")
	r := NewRegistry(WithRepository(repo))
	ctx := context.Background()

	s, release, err := r.Acquire(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	snap := s.History().Snapshot()
	if err := s.History().Append(exchange("e2")[0]); err != nil {
		t.Fatal(err)
	}

	// Reset does not wait for the in-flight event.
	if err := r.Reset(ctx, 1); err != nil {
		t.Fatal(err)
	}

	if err := s.History().AppendAt(snap.Epoch, exchange("e2")[1]); !errors.Is(err, domain.ErrStaleSession) {
		t.Errorf("expected late result to be rejected, got %v", err)
	}
	if err := s.Persist(ctx, repo); err != nil {
		t.Fatal(err)
	}
	if s.History().Len() != 0 || len(repo.turns[1]) != 0 {
		t.Errorf("history survived reset: %d in memory, %d persisted", s.History().Len(), len(repo.turns[1]))
	}
}

func TestResetBeforeFirstUseSkipsLoad(t *testing.T) {
	repo := newMemoryRepo()
	repo.turns[1] = exchange("e1")
	r := NewRegistry(WithRepository(repo))

	if err := r.Reset(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	s, release, err := r.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if repo.loads != 0 || s.History().Len() != 0 {
		t.Errorf("reset session loaded old history: %d loads, %d turns", repo.loads, s.History().Len())
	}
}

func TestInconsistentPersistedHistoryStartsEmpty(t *testing.T) {
	repo := newMemoryRepo()
	repo.turns[1] = append(exchange("e1")[:1:1], exchange("e2")...)
	r := NewRegistry(WithRepository(repo))

	s, release, err := r.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if s.History().Len() != 0 {
		t.Errorf("expected empty history, got %d turns", s.History().Len())
	}
}

func TestSystemPromptRef(t *testing.T) {
	r := NewRegistry()
	s, release, err := r.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if s.SystemPromptRef() != "" {
		t.Errorf("expected no override, got %q", s.SystemPromptRef())
	}
	s.SetSystemPromptRef("pirate")
	if s.SystemPromptRef() != "pirate" {
		t.Errorf("expected pirate, got %q", s.SystemPromptRef())
	}
}

type settingsRepo map[int64]domain.Settings

func (s settingsRepo) GetByUserID(_ context.Context, userID int64) (*domain.Settings, error) {
	if userID < 0 {
		return nil, errors.New("connection refused")
	}
	settings, ok := s[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &settings, nil
}

func TestAcquireRestoresSettings(t *testing.T) {
	r := NewRegistry(WithSettings(settingsRepo{1: {UserID: 1, SystemPromptRef: "pirate"}}))

	tests := []struct {
		name   string
		userID int64
		want   string
	}{
		{name: "saved prompt", userID: 1, want: "pirate"},
		{name: "no settings", userID: 2, want: ""},
		{name: "settings store down", userID: -3, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, release, err := r.Acquire(context.Background(), tt.userID)
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}
			defer release()

			if got := s.SystemPromptRef(); got != tt.want {
				t.Errorf("expected prompt %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSetSystemPromptRefBeforeFirstUse(t *testing.T) {
	r := NewRegistry()

	r.SetSystemPromptRef(5, "poet")

	s, release, err := r.Acquire(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if got := s.SystemPromptRef(); got != "poet" {
		t.Errorf("expected prompt %q, got %q", "poet", got)
	}
}

func TestRestartKeepsAnsweredExchanges(t *testing.T) {
	repo := newMemoryRepo()
	r := NewRegistry(WithRepository(repo))

	s, release, err := r.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	turns := append(exchange("e1"), exchange("e2")[0])
	for _, turn := range turns {
		if err := s.History().Append(turn); err != nil {
			t.Fatal(err)
		}
	}
	// Delivery of e1 is linked and saved while e2 waits for the backend.
	s.LinkMessages("e1-m", 42)
	if err := s.Persist(context.Background(), repo); err != nil {
		t.Fatal(err)
	}
	release()

	restarted := NewRegistry(WithRepository(repo))
	s, release, err = restarted.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	snapshot := s.History().Snapshot()
	if len(snapshot.Turns) != 2 {
		t.Fatalf("expected the answered exchange to survive, got %d turns", len(snapshot.Turns))
	}
	if !snapshot.Turns[1].HasMessageID(42) {
		t.Errorf("expected delivery link to survive, got %v", snapshot.Turns[1].MessageIDs)
	}
}

func TestAcquireExpiresIdleConversation(t *testing.T) {
	lastTurn := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		ttl       time.Duration
		idle      time.Duration
		wantTurns int
	}{
		{"idle past ttl", time.Hour, 2 * time.Hour, 0},
		{"idle within ttl", time.Hour, 30 * time.Minute, 2},
		{"no ttl", 0, 48 * time.Hour, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryRepo()
			turns := exchange("e1")
			for i := range turns {
				turns[i].CreatedAt = lastTurn
			}
			repo.turns[1] = turns

			now := lastTurn.Add(tt.idle)
			r := NewRegistry(
				WithRepository(repo),
				WithIdleTTL(tt.ttl),
				WithClock(func() time.Time { return now }),
			)

			s, release, err := r.Acquire(context.Background(), 1)
			if err != nil {
				t.Fatal(err)
			}
			defer release()

			if got := s.History().Len(); got != tt.wantTurns {
				t.Errorf("expected %d turns, got %d", tt.wantTurns, got)
			}
			expired := tt.wantTurns == 0
			if got := s.History().Epoch() > 0; got != expired {
				t.Errorf("expected new epoch %v, got %v", expired, got)
			}
			if _, kept := repo.turns[1]; kept == expired {
				t.Errorf("expected persisted history kept %v, got %v", !expired, kept)
			}
		})
	}
}

func TestAcquireExpiresConversationBetweenEvents(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := start
	r := NewRegistry(WithIdleTTL(time.Minute), WithClock(func() time.Time { return now }))

	s, release, err := r.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, turn := range exchange("e1") {
		turn.CreatedAt = start
		if err := s.History().Append(turn); err != nil {
			t.Fatal(err)
		}
	}
	epoch := s.History().Epoch()
	release()

	now = start.Add(20 * time.Minute)
	s, release, err = r.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if s.History().Len() != 0 || s.History().Epoch() == epoch {
		t.Errorf("expected idle conversation cleared, got %d turns at epoch %d", s.History().Len(), s.History().Epoch())
	}
}
