// Package openai adapts the OpenAI chat completions API to the
// dispatcher's Backend interface.
package openai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type api interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// transcriptCacheSize bounds how many voice notes keep their transcript.
// History is trimmed long before a user accumulates this many.
const transcriptCacheSize = 1024

type client struct {
	api api

	// transcripts maps the SHA-256 of an audio payload to its text, so a
	// voice note stays transcribed while it remains in history.
	transcripts *lru.Cache[string, string]
}

func NewClient(token string) (*client, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty")
	}
	return newClient(openai.NewClient(token)), nil
}

func newClient(api api) *client {
	return &client{
		api:         api,
		transcripts: lo.Must(lru.New[string, string](transcriptCacheSize)),
	}
}

func (c *client) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	chatReq, err := c.toChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &domain.BackendError{Kind: domain.BackendTransient, Err: errors.New("no choices in response")}
	}

	res := &domain.GenerationResult{
		Usage: domain.Usage{
			PromptTokens:   resp.Usage.PromptTokens,
			ResponseTokens: resp.Usage.CompletionTokens,
			TotalTokens:    resp.Usage.TotalTokens,
		},
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		res.Blocked = true
		res.BlockCategory = string(openai.FinishReasonContentFilter)
		return res, nil
	}

	res.Text = strings.TrimSpace(choice.Message.Content)
	if res.Text == "" {
		return nil, &domain.BackendError{Kind: domain.BackendTransient, Err: errors.New("empty completion")}
	}
	return res, nil
}

func (c *client) toChatRequest(ctx context.Context, req *domain.GenerationRequest) (openai.ChatCompletionRequest, error) {
	if len(req.Contents) == 0 || req.Contents[0].Role != domain.RequestRoleSystem {
		return openai.ChatCompletionRequest{}, &domain.BackendError{Kind: domain.BackendPermanent, Err: errors.New("request has no system element")}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: int(req.Config.MaxOutputTokens),
	}
	if t := req.Config.Temperature; t != nil {
		chatReq.Temperature = *t
	}
	if p := req.Config.TopP; p != nil {
		chatReq.TopP = *p
	}
	if req.Config.ResponseMimeType == "application/json" {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: joinText(req.Contents[0].Parts),
	})

	for _, rc := range req.Contents[1:] {
		if rc.Role == domain.RequestRoleModel {
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: joinText(rc.Parts),
			})
			continue
		}

		parts, err := c.toMessageParts(ctx, rc.Parts)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
	}

	return chatReq, nil
}

// toMessageParts converts user parts. Audio is sent as its transcription
// and binary documents are only named.
func (c *client) toMessageParts(ctx context.Context, parts []domain.ContentPart) ([]openai.ChatMessagePart, error) {
	out := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Kind == domain.PartImage:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", p.MimeType, base64.StdEncoding.EncodeToString(p.Data)),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		case p.Kind == domain.PartAudio:
			text, err := c.transcribe(ctx, p)
			if err != nil {
				return nil, err
			}
			out = append(out, textPart("Transcribed audio: "+text))
		case p.Kind == domain.PartDocument && p.Text == "":
			out = append(out, textPart(fmt.Sprintf("[%s document %q cannot be read by this model]", p.MimeType, p.FileName)))
		case p.Kind == domain.PartDocument:
			out = append(out, textPart(fmt.Sprintf("File: %s\n\n%s", p.FileName, p.Text)))
		default:
			out = append(out, textPart(p.Text))
		}
	}
	return out, nil
}

func (c *client) transcribe(ctx context.Context, p domain.ContentPart) (string, error) {
	sum := sha256.Sum256(p.Data)
	key := hex.EncodeToString(sum[:])
	if text, ok := c.transcripts.Get(key); ok {
		return text, nil
	}

	req := openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "voice" + audioExt(p.MimeType),
		Reader:   bytes.NewReader(p.Data),
	}
	resp, err := c.api.CreateTranscription(ctx, req)
	if err != nil {
		return "", fmt.Errorf("creating transcription: %w", classify(err))
	}
	c.transcripts.Add(key, resp.Text)
	return resp.Text, nil
}

func audioExt(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/flac":
		return ".flac"
	default:
		return ".ogg"
	}
}

func textPart(text string) openai.ChatMessagePart {
	return openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text}
}

func joinText(parts []domain.ContentPart) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
