package history

import "github.com/dskvich/gemini-telegram-bot/pkg/domain"

type TrimResult struct {
	EvictedTurns int
	// TotalTokens is the estimate of the remaining history plus the pending turn.
	TotalTokens int
}

// Trim evicts whole exchanges from the head of the history until the
// remaining turns plus the pending turn fit the budget. A user turn always
// leaves together with its model response. The most recent complete
// exchange is never evicted, even when it alone exceeds the budget.
//
// The pending turn is not appended; only its estimate is counted.
func (h *History) Trim(budget int, pending *domain.Turn) TrimResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for _, t := range h.turns {
		total += t.TokenEstimate
	}
	if pending != nil {
		total += h.Estimate(pending)
	}

	evicted := 0
	for total > budget {
		unit := h.headUnitLocked()
		if len(h.turns)-unit < 2 {
			break
		}
		for _, t := range h.turns[:unit] {
			total -= t.TokenEstimate
		}
		h.turns = append([]domain.Turn(nil), h.turns[unit:]...)
		evicted += unit
	}

	return TrimResult{EvictedTurns: evicted, TotalTokens: total}
}

// headUnitLocked is the number of turns forming the oldest eviction unit:
// a user turn with its model response, or a solitary trailing user turn.
func (h *History) headUnitLocked() int {
	if len(h.turns) >= 2 && h.turns[0].Role == domain.RoleUser && h.turns[1].Role == domain.RoleModel {
		return 2
	}
	return 1
}
