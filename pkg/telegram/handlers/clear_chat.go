package handlers

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type ChatClearer interface {
	ClearHistory(ctx context.Context, chatID, userID int64)
}

type clearChat struct {
	clearer ChatClearer
}

func NewClearChat(clearer ChatClearer) *clearChat {
	return &clearChat{clearer: clearer}
}

func (c *clearChat) CanHandle(update *tgbotapi.Update) bool {
	return isCommand(update, "clear", "new")
}

func (c *clearChat) Handle(ctx context.Context, update *tgbotapi.Update) {
	slog.InfoContext(ctx, "Clearing chat")

	c.clearer.ClearHistory(ctx, update.Message.Chat.ID, update.Message.From.ID)
}
