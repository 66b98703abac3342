// Package config loads the hot-reloadable bot configuration and the system
// prompt directory into immutable snapshots.
package config

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

const DefaultContextWindowTokens = 1_048_576

// Snapshot is one consistent view of the configuration. It is never
// modified after Load returns it; edits produce a new Snapshot.
type Snapshot struct {
	AllowedUsers        map[int64]struct{}
	ModelName           string
	Generation          domain.GenerationConfig
	Safety              domain.SafetyPolicy
	SystemPromptRef     string
	Prompts             map[string]string
	ContextWindowTokens int
	LoadedAt            time.Time
}

func (s *Snapshot) IsAllowed(userID int64) bool {
	_, ok := s.AllowedUsers[userID]
	return ok
}

// TokenBudget is the part of the context window left for history once the
// response is reserved.
func (s *Snapshot) TokenBudget() int {
	return s.ContextWindowTokens - int(s.Generation.MaxOutputTokens)
}

func (s *Snapshot) HasPrompt(ref string) bool {
	_, ok := s.Prompts[ref]
	return ok
}

func (s *Snapshot) PromptNames() []string {
	names := lo.Keys(s.Prompts)
	slices.Sort(names)
	return names
}

// View is the snapshot as shown on the admin endpoint. Prompt bodies are
// left out.
type View struct {
	AllowedUsers        []int64                 `json:"allowed_users"`
	ModelName           string                  `json:"model_name"`
	Generation          domain.GenerationConfig `json:"generation_config"`
	Safety              domain.SafetyPolicy     `json:"safety_settings"`
	SystemPromptRef     string                  `json:"system_prompt_ref"`
	Prompts             []string                `json:"prompts"`
	ContextWindowTokens int                     `json:"context_window_tokens"`
	TokenBudget         int                     `json:"token_budget"`
	LoadedAt            time.Time               `json:"loaded_at"`
}

func (s *Snapshot) View() View {
	users := lo.Keys(s.AllowedUsers)
	slices.Sort(users)
	return View{
		AllowedUsers:        users,
		ModelName:           s.ModelName,
		Generation:          s.Generation,
		Safety:              s.Safety,
		SystemPromptRef:     s.SystemPromptRef,
		Prompts:             s.PromptNames(),
		ContextWindowTokens: s.ContextWindowTokens,
		TokenBudget:         s.TokenBudget(),
		LoadedAt:            s.LoadedAt,
	}
}
