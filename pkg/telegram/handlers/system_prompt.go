package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type SystemPromptSwitcher interface {
	SystemPrompt(ctx context.Context, chatID, userID int64, name string)
}

type systemPrompt struct {
	switcher SystemPromptSwitcher
}

// NewSystemPrompt handles /prompt (list) and /prompt NAME (switch).
func NewSystemPrompt(switcher SystemPromptSwitcher) *systemPrompt {
	return &systemPrompt{switcher: switcher}
}

func (s *systemPrompt) CanHandle(update *tgbotapi.Update) bool {
	return isCommand(update, "prompt")
}

func (s *systemPrompt) Handle(ctx context.Context, update *tgbotapi.Update) {
	msg := update.Message
	s.switcher.SystemPrompt(ctx, msg.Chat.ID, msg.From.ID, msg.CommandArguments())
}
