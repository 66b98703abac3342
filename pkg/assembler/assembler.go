// Package assembler builds backend-neutral generation requests from a
// history snapshot and the active configuration.
package assembler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

// Params is the configuration a request is assembled from. It is read from
// one config snapshot so a request never mixes two configurations.
type Params struct {
	Model           string
	SystemPromptRef string
	Prompts         map[string]string
	Generation      domain.GenerationConfig
	Safety          domain.SafetyPolicy
}

var errMissingPrompt = errors.New("system prompt not found")

// Assemble returns the request for the given turns. The result depends only
// on its inputs. It fails only with a *domain.ConfigurationError.
func Assemble(turns []domain.Turn, p Params) (*domain.GenerationRequest, error) {
	if p.Model == "" {
		return nil, &domain.ConfigurationError{Field: "model_name", Err: errors.New("empty")}
	}
	prompt, ok := p.Prompts[p.SystemPromptRef]
	if !ok {
		return nil, &domain.ConfigurationError{
			Field: "system_prompt_ref",
			Err:   fmt.Errorf("%q: %w", p.SystemPromptRef, errMissingPrompt),
		}
	}

	contents := make([]domain.RequestContent, 0, len(turns)+1)
	contents = append(contents, domain.RequestContent{
		Role:  domain.RequestRoleSystem,
		Parts: []domain.ContentPart{domain.TextPart(prompt)},
	})
	for _, t := range turns {
		contents = append(contents, renderTurn(t))
	}

	return &domain.GenerationRequest{
		Model:    p.Model,
		Contents: contents,
		Config:   p.Generation,
		Safety:   safetySettings(p.Safety),
	}, nil
}

func renderTurn(t domain.Turn) domain.RequestContent {
	role := domain.RequestRoleUser
	if t.Role == domain.RoleModel {
		role = domain.RequestRoleModel
	}

	parts := make([]domain.ContentPart, 0, len(t.Parts)+1)
	if t.ReplyContext != nil {
		parts = append(parts, domain.TextPart(ReplyAnnotation(*t.ReplyContext)))
	}
	parts = append(parts, t.Parts...)

	return domain.RequestContent{Role: role, Parts: parts}
}

// ReplyAnnotation is the text placed before a reply turn's own content.
func ReplyAnnotation(rc domain.ReplyContext) string {
	sender := "user"
	if rc.Role == domain.RoleModel {
		sender = "AI assistant"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CONTEXT: User is replying to a previous %s message sent by %s\n", rc.Kind, sender)
	fmt.Fprintf(&sb, "REPLIED MESSAGE: %s\n\n", rc.Summary)
	sb.WriteString("USER'S REPLY:")
	return sb.String()
}

func safetySettings(policy domain.SafetyPolicy) []domain.SafetySetting {
	settings := make([]domain.SafetySetting, 0, len(policy))
	for category, threshold := range policy {
		settings = append(settings, domain.SafetySetting{Category: category, Threshold: threshold})
	}
	slices.SortFunc(settings, func(a, b domain.SafetySetting) int {
		return strings.Compare(string(a.Category), string(b.Category))
	})
	return settings
}
