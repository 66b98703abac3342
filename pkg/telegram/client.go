package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
	"github.com/dskvich/gemini-telegram-bot/pkg/render"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type client struct {
	bot          botAPI
	httpClient   *http.Client
	updatesCh    tgbotapi.UpdatesChannel
	maxFileBytes int64
}

func NewClient(token string, maxFileBytes int64) (*client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating bot api instance: %v", err)
	}

	slog.Info("authorized on telegram", "account", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	return &client{
		bot:          bot,
		httpClient:   &http.Client{Timeout: time.Minute},
		updatesCh:    bot.GetUpdatesChan(u),
		maxFileBytes: maxFileBytes,
	}, nil
}

func (c *client) GetUpdates() tgbotapi.UpdatesChannel {
	return c.updatesCh
}

// SendResponse renders the response as HTML and sends it, split into as
// many messages as needed. It returns the ids of the sent messages.
func (c *client) SendResponse(ctx context.Context, response *domain.Response) []int {
	text := response.Text
	if response.Err != nil {
		text = "❌ " + response.Err.Error()
	}

	var ids []int
	for i, chunk := range render.Split(render.ToHTML(text), render.MaxMessageLength) {
		msg := tgbotapi.NewMessage(response.ChatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		if i == 0 {
			msg.ReplyToMessageID = response.ReplyToMessageID
		}

		sent, err := c.bot.Send(msg)
		if err != nil {
			slog.WarnContext(ctx, "sending html message failed, retrying as plain text", logger.Err(err))

			msg.Text = render.PlainText(chunk)
			msg.ParseMode = ""
			if sent, err = c.bot.Send(msg); err != nil {
				slog.ErrorContext(ctx, "sending message", "chat_id", response.ChatID, logger.Err(err))
				continue
			}
		}
		ids = append(ids, sent.MessageID)
	}
	return ids
}

func (c *client) StartTyping(ctx context.Context, chatID int64) {
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		slog.WarnContext(ctx, "sending typing action", logger.Err(err))
	}
}

// DownloadFile fetches a file the user sent. Files above the size limit are
// refused without reading them completely.
func (c *client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	link, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("getting file: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %v", err)
	}
	defer func(Body io.ReadCloser) {
		if closeErr := Body.Close(); closeErr != nil {
			slog.Error("closing body", logger.Err(closeErr))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	bytes, err := io.ReadAll(io.LimitReader(resp.Body, c.maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %v", err)
	}
	if int64(len(bytes)) > c.maxFileBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", c.maxFileBytes)
	}

	return bytes, nil
}
