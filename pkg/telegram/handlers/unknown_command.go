package handlers

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type unknownCommand struct {
	responseCh chan<- domain.Response
}

// NewUnknownCommand points users at /help for commands nobody handles.
func NewUnknownCommand(responseCh chan<- domain.Response) *unknownCommand {
	return &unknownCommand{responseCh: responseCh}
}

func (u *unknownCommand) CanHandle(update *tgbotapi.Update) bool {
	return update.Message != nil && update.Message.IsCommand()
}

func (u *unknownCommand) Handle(ctx context.Context, update *tgbotapi.Update) {
	slog.WarnContext(ctx, "Unhandled command", "cmd", update.Message.Command())

	send(ctx, u.responseCh, domain.Response{
		ChatID:           update.Message.Chat.ID,
		ReplyToMessageID: update.Message.MessageID,
		Text:             "🤔 Unknown command. Send /help to see what I can do.",
	})
}
