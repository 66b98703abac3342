// Package history keeps one user's ordered conversation and trims it to a
// token budget.
package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

// History is the ordered turn sequence of one session. Roles strictly
// alternate starting with a user turn. Turns leave the history only through
// Trim (oldest first) or Clear.
type History struct {
	mu        sync.Mutex
	turns     []domain.Turn
	epoch     uint64
	estimator Estimator
}

// Snapshot is an immutable ordered view of a history at one epoch.
type Snapshot struct {
	Turns []domain.Turn
	Epoch uint64
}

func (s Snapshot) TotalTokens() int {
	total := 0
	for _, t := range s.Turns {
		total += t.TokenEstimate
	}
	return total
}

func New(estimator Estimator) *History {
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	return &History{estimator: estimator}
}

// Estimate fills the turn's cached token estimate if it is not set yet and
// returns it.
func (h *History) Estimate(turn *domain.Turn) int {
	if turn.TokenEstimate <= 0 {
		turn.TokenEstimate = h.estimator.Estimate(*turn)
	}
	return turn.TokenEstimate
}

// Append adds a turn at the tail.
func (h *History) Append(turn domain.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.appendLocked(turn)
}

// AppendAt appends only if the history has not been cleared since the
// snapshot with the given epoch was taken.
func (h *History) AppendAt(epoch uint64, turn domain.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.epoch != epoch {
		return domain.ErrStaleSession
	}
	return h.appendLocked(turn)
}

func (h *History) appendLocked(turn domain.Turn) error {
	if err := h.checkAlternation(turn.Role); err != nil {
		return err
	}
	turn = turn.Clone()
	h.Estimate(&turn)
	h.turns = append(h.turns, turn)
	return nil
}

func (h *History) checkAlternation(next domain.Role) error {
	if next != domain.RoleUser && next != domain.RoleModel {
		return fmt.Errorf("unknown role %q", next)
	}
	if len(h.turns) == 0 {
		if next != domain.RoleUser {
			return &domain.ProtocolViolationError{Next: next}
		}
		return nil
	}
	if prev := h.turns[len(h.turns)-1].Role; prev == next {
		return &domain.ProtocolViolationError{Previous: prev, Next: next}
	}
	return nil
}

// Restore loads persisted turns into an empty history. The sequence must
// alternate. A trailing user turn saved while its request was still in
// flight is dropped; Restore reports how many turns it kept.
func (h *History) Restore(turns []domain.Turn) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.turns) != 0 {
		return 0, fmt.Errorf("restoring into non-empty history")
	}
	if n := len(turns); n > 0 && turns[n-1].Role == domain.RoleUser {
		turns = turns[:n-1]
	}
	for i, t := range turns {
		if err := h.appendLocked(t); err != nil {
			h.turns = nil
			return 0, fmt.Errorf("restoring turn %d: %w", i, err)
		}
	}
	return len(h.turns), nil
}

// LastActivity is the creation time of the newest turn, zero for an empty
// history.
func (h *History) LastActivity() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.turns) == 0 {
		return time.Time{}
	}
	return h.turns[len(h.turns)-1].CreatedAt
}

// Clear drops all turns and starts a new epoch. Calling it on an empty
// history is harmless.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = nil
	h.epoch++
}

func (h *History) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := make([]domain.Turn, len(h.turns))
	for i, t := range h.turns {
		turns[i] = t.Clone()
	}
	return Snapshot{Turns: turns, Epoch: h.epoch}
}

func (h *History) Epoch() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.epoch
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.turns)
}

// LinkMessages records platform message ids a turn was delivered as. It
// reports false if the turn is no longer in history.
func (h *History) LinkMessages(turnID string, messageIDs ...int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].ID != turnID {
			continue
		}
		for _, id := range messageIDs {
			if !h.turns[i].HasMessageID(id) {
				h.turns[i].MessageIDs = append(h.turns[i].MessageIDs, id)
			}
		}
		return true
	}
	return false
}
