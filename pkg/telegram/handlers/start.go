package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type GreetingSender interface {
	SendGreeting(ctx context.Context, chatID int64)
}

type start struct {
	sender GreetingSender
}

// NewStart answers /start and /help with the capabilities overview.
func NewStart(sender GreetingSender) *start {
	return &start{sender: sender}
}

func (s *start) CanHandle(update *tgbotapi.Update) bool {
	return isCommand(update, "start", "help")
}

func (s *start) Handle(ctx context.Context, update *tgbotapi.Update) {
	s.sender.SendGreeting(ctx, update.Message.Chat.ID)
}
