package handlers

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
)

// EventKindOther marks messages with content the bot does not take, such as
// stickers or videos. The normalizer rejects them.
const EventKindOther domain.EventKind = "other"

type EventHandler interface {
	HandleEvent(ctx context.Context, event domain.InboundEvent)
}

type FileDownloader interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type generateContent struct {
	events     EventHandler
	downloader FileDownloader
	responseCh chan<- domain.Response
}

// NewGenerateContent turns every non-command message into an inbound event,
// downloading media first.
func NewGenerateContent(events EventHandler, downloader FileDownloader, responseCh chan<- domain.Response) *generateContent {
	return &generateContent{
		events:     events,
		downloader: downloader,
		responseCh: responseCh,
	}
}

func (g *generateContent) CanHandle(update *tgbotapi.Update) bool {
	return update.Message != nil && update.Message.From != nil && !update.Message.IsCommand()
}

func (g *generateContent) Handle(ctx context.Context, update *tgbotapi.Update) {
	event := ToInboundEvent(update.Message)

	if event.FileID != "" {
		payload, err := g.downloader.DownloadFile(ctx, event.FileID)
		if err != nil {
			slog.ErrorContext(ctx, "downloading file", "kind", event.Kind, logger.Err(err))
			send(ctx, g.responseCh, domain.Response{
				ChatID:           event.ChatID,
				ReplyToMessageID: event.MessageID,
				Text:             "❌ I couldn't download this file. It may be too large.",
			})
			return
		}
		event.Payload = payload
	}

	g.events.HandleEvent(ctx, event)
}

// ToInboundEvent describes a Telegram message without its media bytes.
func ToInboundEvent(msg *tgbotapi.Message) domain.InboundEvent {
	event := domain.InboundEvent{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Caption:   msg.Caption,
	}
	if msg.From != nil {
		event.UserID = msg.From.ID
	}
	if msg.ReplyToMessage != nil {
		event.ReplyToID = msg.ReplyToMessage.MessageID
	}

	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered from smallest to largest.
		largest := msg.Photo[len(msg.Photo)-1]
		event.Kind = domain.EventImage
		event.FileID = largest.FileID
	case msg.Document != nil:
		event.Kind = domain.EventDocument
		event.FileID = msg.Document.FileID
		event.FileName = msg.Document.FileName
		event.MimeType = msg.Document.MimeType
		if isImageMime(msg.Document.MimeType) {
			event.Kind = domain.EventImage
		}
	case msg.Voice != nil:
		event.Kind = domain.EventAudio
		event.FileID = msg.Voice.FileID
		event.MimeType = msg.Voice.MimeType
		event.FileName = "voice.ogg"
	case msg.Audio != nil:
		event.Kind = domain.EventAudio
		event.FileID = msg.Audio.FileID
		event.MimeType = msg.Audio.MimeType
		event.FileName = lo.CoalesceOrEmpty(msg.Audio.FileName, "audio")
	case msg.Text != "":
		event.Kind = domain.EventText
		event.Text = msg.Text
	default:
		event.Kind = EventKindOther
	}
	return event
}

// Images sent "as file" arrive as documents with an image mime type.
func isImageMime(mime string) bool {
	return lo.Contains([]string{"image/jpeg", "image/png", "image/webp", "image/heic", "image/heif"}, mime)
}

func isCommand(update *tgbotapi.Update, names ...string) bool {
	if update.Message == nil || update.Message.From == nil || !update.Message.IsCommand() {
		return false
	}
	return lo.Contains(names, update.Message.Command())
}

func send(ctx context.Context, responseCh chan<- domain.Response, resp domain.Response) {
	select {
	case responseCh <- resp:
	case <-ctx.Done():
	}
}
