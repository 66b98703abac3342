// Package reply resolves platform reply references against session history.
package reply

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

const (
	DefaultWindow = 50

	// maxExcerptRunes bounds the cached summary of a replied text turn.
	maxExcerptRunes = 200
)

type Resolver struct {
	window int
}

// NewResolver returns a resolver that looks at most window turns back.
func NewResolver(window int) *Resolver {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Resolver{window: window}
}

// Resolve finds the turn delivered as platform message replyToID among the
// most recent turns and describes it. A zero id means the event is not a
// reply and yields nil without error.
//
// Replies to a placeholder turn resolve as not found.
//
// ErrReplyTargetNotFound and ErrReplyToAudio are soft failures: callers keep
// the turn and store it without a reply context.
func (r *Resolver) Resolve(turns []domain.Turn, replyToID int) (*domain.ReplyContext, error) {
	if replyToID == 0 {
		return nil, nil
	}

	stop := max(len(turns)-r.window, 0)
	for i := len(turns) - 1; i >= stop; i-- {
		t := turns[i]
		if !t.HasMessageID(replyToID) {
			continue
		}
		// A placeholder stands in for a reply the model never gave.
		if t.Placeholder {
			break
		}

		kind := t.PrimaryKind()
		if kind == domain.PartAudio {
			return nil, fmt.Errorf("message %d: %w", replyToID, domain.ErrReplyToAudio)
		}
		return &domain.ReplyContext{
			TurnID:  t.ID,
			Role:    t.Role,
			Kind:    kind,
			Summary: summarize(t, kind),
		}, nil
	}

	return nil, fmt.Errorf("message %d: %w", replyToID, domain.ErrReplyTargetNotFound)
}

// summarize describes text turns by an excerpt and media turns by a type
// label; media bytes are never looked at again.
func summarize(t domain.Turn, kind domain.PartKind) string {
	switch kind {
	case domain.PartImage:
		return "[Image]"
	case domain.PartDocument:
		for _, p := range t.Parts {
			if p.Kind == domain.PartDocument && p.FileName != "" {
				return fmt.Sprintf("[Document: %s]", p.FileName)
			}
		}
		return "[Document]"
	default:
		return Excerpt(t.Text(), maxExcerptRunes)
	}
}

// Excerpt shortens text to at most n runes, marking the cut with an ellipsis.
func Excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
