package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
	"github.com/dskvich/gemini-telegram-bot/pkg/session"
)

const greetingText = `👋 Hi! I'm a Gemini assistant. Here is what I can do:

💬 Answer text messages, keeping the conversation context
📷 Look at photos and answer questions about them
📄 Read text documents and PDFs
🎙 Listen to voice messages
↩️ Take a reply to one of our earlier messages into account

Commands:
/clear: start a new conversation
/prompt: show or switch the system prompt
/help: show this message`

type SettingsRepository interface {
	Save(ctx context.Context, settings domain.Settings) error
}

type commandService struct {
	sessions   *session.Registry
	settings   SettingsRepository
	config     ConfigSource
	responseCh chan<- domain.Response
}

func NewCommandService(
	sessions *session.Registry,
	settings SettingsRepository,
	config ConfigSource,
	responseCh chan<- domain.Response,
) *commandService {
	return &commandService{
		sessions:   sessions,
		settings:   settings,
		config:     config,
		responseCh: responseCh,
	}
}

func (c *commandService) SendGreeting(ctx context.Context, chatID int64) {
	c.send(ctx, chatID, greetingText)
}

// ClearHistory resets the conversation right away, even if a request is
// still in flight. Its late result is discarded.
func (c *commandService) ClearHistory(ctx context.Context, chatID, userID int64) {
	slog.InfoContext(ctx, "clearing history")

	if err := c.sessions.Reset(ctx, userID); err != nil {
		slog.ErrorContext(ctx, "clearing history", logger.Err(err))
		c.send(ctx, chatID, "⚠️ The conversation was cleared, but the saved copy could not be removed.")
		return
	}

	c.send(ctx, chatID, "🧹 History cleared! Let's start a new conversation. 🚀")
}

// SystemPrompt lists the available prompts when name is empty and
// switches the user's prompt otherwise.
func (c *commandService) SystemPrompt(ctx context.Context, chatID, userID int64, name string) {
	cfg := c.config.Current()
	if cfg == nil {
		c.send(ctx, chatID, configErrorText)
		return
	}

	current := cfg.SystemPromptRef
	if s, ok := c.sessions.Get(userID); ok {
		current = lo.CoalesceOrEmpty(s.SystemPromptRef(), current)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		c.send(ctx, chatID, promptList(cfg.PromptNames(), current))
		return
	}

	if !cfg.HasPrompt(name) {
		c.send(ctx, chatID, fmt.Sprintf("❌ Unknown prompt %q.\n\n%s", name, promptList(cfg.PromptNames(), current)))
		return
	}

	if err := c.settings.Save(ctx, domain.Settings{UserID: userID, SystemPromptRef: name}); err != nil {
		slog.ErrorContext(ctx, "saving settings", logger.Err(err))
		c.send(ctx, chatID, "❌ Could not save the setting, please try again.")
		return
	}
	c.sessions.SetSystemPromptRef(userID, name)

	slog.InfoContext(ctx, "system prompt switched", "prompt", name)
	c.send(ctx, chatID, fmt.Sprintf("✅ System prompt set to %q. It applies from your next message.", name))
}

func promptList(names []string, current string) string {
	var sb strings.Builder
	sb.WriteString("🧠 Available system prompts:\n")
	for _, name := range names {
		marker := "▫️"
		if name == current {
			marker = "▪️"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", marker, name))
	}
	sb.WriteString("\nUse /prompt NAME to switch.")
	return sb.String()
}

func (c *commandService) send(ctx context.Context, chatID int64, text string) {
	select {
	case c.responseCh <- domain.Response{ChatID: chatID, Text: text}:
	case <-ctx.Done():
		slog.WarnContext(ctx, "dropping response, context done", logger.Err(ctx.Err()))
	}
}
