// Package gemini adapts the Gemini API to the dispatcher's Backend interface.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"google.golang.org/genai"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type client struct {
	models generator
}

func NewClient(ctx context.Context, apiKey string) (*client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is empty")
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &client{models: c.Models}, nil
}

func (c *client) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	contents, config, err := toGenai(req)
	if err != nil {
		return nil, &domain.BackendError{Kind: domain.BackendPermanent, Err: err}
	}

	resp, err := c.models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, classify(err)
	}

	return fromGenai(resp)
}

func toGenai(req *domain.GenerationRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if len(req.Contents) == 0 || req.Contents[0].Role != domain.RequestRoleSystem {
		return nil, nil, errors.New("request has no system element")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: toParts(req.Contents[0].Parts)},
		Temperature:       req.Config.Temperature,
		TopP:              req.Config.TopP,
		MaxOutputTokens:   req.Config.MaxOutputTokens,
		ResponseMIMEType:  req.Config.ResponseMimeType,
	}
	if req.Config.TopK != nil {
		topK := float32(*req.Config.TopK)
		config.TopK = &topK
	}
	for _, s := range req.Safety {
		config.SafetySettings = append(config.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(s.Category),
			Threshold: genai.HarmBlockThreshold(s.Threshold),
		})
	}

	contents := make([]*genai.Content, 0, len(req.Contents)-1)
	for _, rc := range req.Contents[1:] {
		role := genai.RoleUser
		if rc.Role == domain.RequestRoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: string(role), Parts: toParts(rc.Parts)})
	}

	return contents, config, nil
}

func toParts(parts []domain.ContentPart) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Kind == domain.PartText:
			out = append(out, genai.NewPartFromText(p.Text))
		case p.Kind == domain.PartDocument && p.Text != "":
			out = append(out, genai.NewPartFromText(documentText(p)))
		default:
			out = append(out, genai.NewPartFromBytes(p.Data, p.MimeType))
		}
	}
	return out
}

func documentText(p domain.ContentPart) string {
	if p.FileName == "" {
		return p.Text
	}
	return fmt.Sprintf("File: %s\n\n%s", p.FileName, p.Text)
}

func fromGenai(resp *genai.GenerateContentResponse) (*domain.GenerationResult, error) {
	res := &domain.GenerationResult{}
	if u := resp.UsageMetadata; u != nil {
		res.Usage = domain.Usage{
			PromptTokens:   int(u.PromptTokenCount),
			ResponseTokens: int(u.CandidatesTokenCount),
			TotalTokens:    int(u.TotalTokenCount),
		}
	}

	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
		res.Blocked = true
		res.BlockCategory = lo.CoalesceOrEmpty(blockedCategory(pf.SafetyRatings), string(pf.BlockReason))
		return res, nil
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, &domain.BackendError{Kind: domain.BackendTransient, Err: errors.New("response has no candidates")}
	}

	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist, genai.FinishReasonSPII:
		res.Blocked = true
		res.BlockCategory = lo.CoalesceOrEmpty(blockedCategory(cand.SafetyRatings), string(cand.FinishReason))
		return res, nil
	}

	res.Text = candidateText(cand)
	if res.Text == "" {
		return nil, &domain.BackendError{
			Kind: domain.BackendTransient,
			Err:  fmt.Errorf("empty response (finish reason %q)", cand.FinishReason),
		}
	}
	return res, nil
}

func candidateText(cand *genai.Candidate) string {
	if cand.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}

func blockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r != nil && r.Blocked {
			return string(r.Category)
		}
	}
	return ""
}
