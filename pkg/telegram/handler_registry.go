package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Handler interface {
	CanHandle(update *tgbotapi.Update) bool
	Handle(ctx context.Context, update *tgbotapi.Update)
}

// Registry passes each update to the first handler that accepts it.
// Updates nobody accepts go to the fallback, if one is set.
type Registry struct {
	handlers []Handler
	fallback Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	return &Registry{handlers: handlers}
}

func (r *Registry) WithFallback(h Handler) *Registry {
	r.fallback = h
	return r
}

func (r *Registry) HandleUpdate(ctx context.Context, update *tgbotapi.Update) {
	for _, handler := range r.handlers {
		if handler.CanHandle(update) {
			slog.InfoContext(ctx, "Calling handler", "handler", fmt.Sprintf("%T", handler))

			handler.Handle(ctx, update)
			return
		}
	}

	if r.fallback != nil && update.Message != nil {
		r.fallback.Handle(ctx, update)
		return
	}
	slog.WarnContext(ctx, "No handler found for update")
}
