package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

const promptExt = ".txt"

// fileConfig mirrors config.json. Keys written by older tooling
// (gemini_model, system_prompt_file, camelCase generation keys) are
// accepted as aliases.
type fileConfig struct {
	AllowedUsers        []int64           `json:"allowed_users"`
	ModelName           string            `json:"model_name"`
	GeminiModel         string            `json:"gemini_model"`
	GenerationConfig    fileGeneration    `json:"generation_config"`
	SafetySettings      map[string]string `json:"safety_settings"`
	SystemPromptRef     string            `json:"system_prompt_ref"`
	SystemPromptFile    string            `json:"system_prompt_file"`
	ContextWindowTokens int               `json:"context_window_tokens"`
}

type fileGeneration struct {
	Temperature       *float32 `json:"temperature"`
	TopP              *float32 `json:"top_p"`
	TopPCamel         *float32 `json:"topP"`
	TopK              *int32   `json:"top_k"`
	TopKCamel         *int32   `json:"topK"`
	MaxOutput         int32    `json:"max_output_tokens"`
	MaxOutputCamel    int32    `json:"maxOutputTokens"`
	ResponseMime      string   `json:"response_mime_type"`
	ResponseMimeCamel string   `json:"responseMimeType"`
}

func (g fileGeneration) config() domain.GenerationConfig {
	return domain.GenerationConfig{
		Temperature:      g.Temperature,
		TopP:             lo.CoalesceOrEmpty(g.TopP, g.TopPCamel),
		TopK:             lo.CoalesceOrEmpty(g.TopK, g.TopKCamel),
		MaxOutputTokens:  lo.CoalesceOrEmpty(g.MaxOutput, g.MaxOutputCamel),
		ResponseMimeType: lo.CoalesceOrEmpty(g.ResponseMime, g.ResponseMimeCamel),
	}
}

// Load reads the config file and every prompt in promptsDir. Any problem is
// reported as a *domain.ConfigurationError.
func Load(path, promptsDir string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "file", Err: err}
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, &domain.ConfigurationError{Field: "file", Err: fmt.Errorf("decoding %s: %w", path, err)}
	}

	prompts, err := LoadPrompts(promptsDir)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "prompts", Err: err}
	}

	return build(fc, prompts)
}

func build(fc fileConfig, prompts map[string]string) (*Snapshot, error) {
	s := &Snapshot{
		AllowedUsers:        lo.SliceToMap(fc.AllowedUsers, func(id int64) (int64, struct{}) { return id, struct{}{} }),
		ModelName:           lo.CoalesceOrEmpty(fc.ModelName, fc.GeminiModel),
		Generation:          fc.GenerationConfig.config(),
		Safety:              domain.SafetyPolicy{},
		SystemPromptRef:     lo.CoalesceOrEmpty(fc.SystemPromptRef, promptName(fc.SystemPromptFile), "default"),
		Prompts:             prompts,
		ContextWindowTokens: lo.CoalesceOrEmpty(fc.ContextWindowTokens, DefaultContextWindowTokens),
		LoadedAt:            time.Now(),
	}

	if s.ModelName == "" {
		return nil, &domain.ConfigurationError{Field: "model_name", Err: errors.New("empty")}
	}
	for category, threshold := range fc.SafetySettings {
		c, t := domain.HarmCategory(category), domain.Threshold(threshold)
		if !c.Valid() {
			return nil, &domain.ConfigurationError{Field: "safety_settings", Err: fmt.Errorf("unknown harm category %q", category)}
		}
		if !t.Valid() {
			return nil, &domain.ConfigurationError{Field: "safety_settings", Err: fmt.Errorf("unknown threshold %q for %s", threshold, category)}
		}
		s.Safety[c] = t
	}
	if err := validateGeneration(s.Generation); err != nil {
		return nil, &domain.ConfigurationError{Field: "generation_config", Err: err}
	}
	if s.TokenBudget() <= 0 {
		return nil, &domain.ConfigurationError{
			Field: "context_window_tokens",
			Err:   fmt.Errorf("%d leaves no room for history after reserving %d output tokens", s.ContextWindowTokens, s.Generation.MaxOutputTokens),
		}
	}
	if !s.HasPrompt(s.SystemPromptRef) {
		return nil, &domain.ConfigurationError{Field: "system_prompt_ref", Err: fmt.Errorf("prompt %q not found", s.SystemPromptRef)}
	}

	return s, nil
}

func validateGeneration(g domain.GenerationConfig) error {
	switch {
	case g.Temperature != nil && (*g.Temperature < 0 || *g.Temperature > 2):
		return fmt.Errorf("temperature %g out of range [0, 2]", *g.Temperature)
	case g.TopP != nil && (*g.TopP < 0 || *g.TopP > 1):
		return fmt.Errorf("top_p %g out of range [0, 1]", *g.TopP)
	case g.TopK != nil && *g.TopK < 1:
		return fmt.Errorf("top_k must be positive, got %d", *g.TopK)
	case g.MaxOutputTokens < 0:
		return fmt.Errorf("max_output_tokens must not be negative, got %d", g.MaxOutputTokens)
	}
	return nil
}

// LoadPrompts reads every *.txt file in dir, keyed by file name without
// the extension.
func LoadPrompts(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading prompt dir: %w", err)
	}

	prompts := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != promptExt {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading prompt %s: %w", e.Name(), err)
		}
		prompts[promptName(e.Name())] = strings.TrimSpace(string(body))
	}
	return prompts, nil
}

// promptName turns "system/default.txt" into "default".
func promptName(file string) string {
	if file == "" {
		return ""
	}
	return strings.TrimSuffix(filepath.Base(file), promptExt)
}
