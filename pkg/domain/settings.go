package domain

// Settings are per-user choices that outlive a history reset.
type Settings struct {
	UserID          int64  `json:"user_id"`
	SystemPromptRef string `json:"system_prompt_ref"`
}
