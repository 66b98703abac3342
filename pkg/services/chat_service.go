package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/dskvich/gemini-telegram-bot/pkg/assembler"
	"github.com/dskvich/gemini-telegram-bot/pkg/config"
	"github.com/dskvich/gemini-telegram-bot/pkg/dispatcher"
	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
	"github.com/dskvich/gemini-telegram-bot/pkg/normalizer"
	"github.com/dskvich/gemini-telegram-bot/pkg/reply"
	"github.com/dskvich/gemini-telegram-bot/pkg/session"
)

const (
	busyText        = "⏳ Still working on your previous messages. Please wait for the answer."
	failedText      = "❌ I couldn't get a response right now. Please try again in a moment."
	blockedText     = "🚫 The response was blocked by the safety policy (%s)."
	configErrorText = "⚙️ The bot is misconfigured right now. The operator has been notified."
	unsupportedText = "⚠️ I can't process this message: %s"
	internalText    = "❌ Something went wrong while processing your message."
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req *domain.GenerationRequest) dispatcher.Outcome
}

type ConfigSource interface {
	Current() *config.Snapshot
}

// Observer receives pipeline events that are not covered by the dispatcher
// and the session registry.
type Observer interface {
	ObserveTrimmed(turns int)
	ObserveReplyWarning(err error)
	ObserveRejected(kind domain.EventKind)
}

type noopObserver struct{}

func (noopObserver) ObserveTrimmed(int)               {}
func (noopObserver) ObserveReplyWarning(error)        {}
func (noopObserver) ObserveRejected(domain.EventKind) {}

type chatService struct {
	sessions   *session.Registry
	normalizer *normalizer.Normalizer
	resolver   *reply.Resolver
	dispatcher Dispatcher
	config     ConfigSource
	observer   Observer
	responseCh chan<- domain.Response
	now        func() time.Time
}

func NewChatService(
	sessions *session.Registry,
	normalizer *normalizer.Normalizer,
	resolver *reply.Resolver,
	dispatcher Dispatcher,
	config ConfigSource,
	observer Observer,
	responseCh chan<- domain.Response,
) *chatService {
	if observer == nil {
		observer = noopObserver{}
	}

	return &chatService{
		sessions:   sessions,
		normalizer: normalizer,
		resolver:   resolver,
		dispatcher: dispatcher,
		config:     config,
		observer:   observer,
		responseCh: responseCh,
		now:        time.Now,
	}
}

// HandleEvent runs one inbound user message through the conversation
// pipeline and sends exactly one response for it, unless the session was
// reset while the request was in flight.
func (c *chatService) HandleEvent(ctx context.Context, event domain.InboundEvent) {
	turn, err := c.normalizer.Normalize(event)
	if err != nil {
		var unsupported *domain.UnsupportedContentError
		if errors.As(err, &unsupported) {
			slog.WarnContext(ctx, "rejected inbound message", "kind", event.Kind, logger.Err(err))
			c.observer.ObserveRejected(event.Kind)
			c.respond(ctx, event, fmt.Sprintf(unsupportedText, unsupported.Reason))
			return
		}
		slog.ErrorContext(ctx, "normalizing message", logger.Err(err))
		c.respond(ctx, event, internalText)
		return
	}

	s, release, err := c.sessions.Acquire(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			slog.InfoContext(ctx, "session busy, rejecting message")
			c.respond(ctx, event, busyText)
			return
		}
		slog.WarnContext(ctx, "acquiring session", logger.Err(err))
		return
	}
	defer release()

	cfg := c.config.Current()
	if cfg == nil {
		slog.ErrorContext(ctx, "no configuration loaded")
		c.respond(ctx, event, configErrorText)
		return
	}

	h := s.History()

	if event.ReplyToID != 0 {
		rc, err := c.resolver.Resolve(h.Snapshot().Turns, event.ReplyToID)
		if err != nil {
			slog.WarnContext(ctx, "storing reply as a plain message", "reply_to", event.ReplyToID, logger.Err(err))
			c.observer.ObserveReplyWarning(err)
		}
		turn.ReplyContext = rc
	}

	h.Estimate(&turn)
	if res := h.Trim(cfg.TokenBudget(), &turn); res.EvictedTurns > 0 {
		slog.InfoContext(ctx, "trimmed history", "evicted", res.EvictedTurns, "tokens", res.TotalTokens, "budget", cfg.TokenBudget())
		c.observer.ObserveTrimmed(res.EvictedTurns)
	}

	snapshot := h.Snapshot()

	req, err := assembler.Assemble(append(snapshot.Turns, turn), c.params(ctx, cfg, s))
	if err != nil {
		slog.ErrorContext(ctx, "assembling request", logger.Err(err))
		c.respond(ctx, event, configErrorText)
		return
	}

	if err := h.AppendAt(snapshot.Epoch, turn); err != nil {
		c.logAppendError(ctx, "appending user turn", err)
		return
	}

	slog.InfoContext(ctx, "dispatching request",
		"model", req.Model,
		"turns", len(req.Contents)-1,
		"tokens", snapshot.TotalTokens()+turn.TokenEstimate,
	)

	out := c.dispatcher.Dispatch(ctx, req)

	modelTurn, text := c.outcomeTurn(ctx, out)
	if err := h.AppendAt(snapshot.Epoch, modelTurn); err != nil {
		c.logAppendError(ctx, "appending model turn", err)
		return
	}

	if err := s.Persist(ctx, c.sessions.Repository()); err != nil {
		slog.WarnContext(ctx, "persisting history", logger.Err(err))
	}

	c.send(ctx, domain.Response{
		ChatID:           event.ChatID,
		Text:             text,
		ReplyToMessageID: event.MessageID,
		UserID:           event.UserID,
		TurnID:           modelTurn.ID,
	})
}

// LinkDelivered records the platform messages a model turn was sent as, so
// later replies to them resolve.
func (c *chatService) LinkDelivered(ctx context.Context, userID int64, turnID string, messageIDs []int) {
	if turnID == "" || len(messageIDs) == 0 {
		return
	}
	s, ok := c.sessions.Get(userID)
	if !ok || !s.LinkMessages(turnID, messageIDs...) {
		slog.DebugContext(ctx, "delivered turn is no longer in history", "turn_id", turnID)
		return
	}
	if err := s.Persist(ctx, c.sessions.Repository()); err != nil {
		slog.WarnContext(ctx, "persisting history", logger.Err(err))
	}
}

func (c *chatService) params(ctx context.Context, cfg *config.Snapshot, s *session.Session) assembler.Params {
	ref := lo.CoalesceOrEmpty(s.SystemPromptRef(), cfg.SystemPromptRef)
	if !cfg.HasPrompt(ref) && ref != cfg.SystemPromptRef {
		slog.WarnContext(ctx, "selected system prompt no longer exists, using default", "prompt", ref)
		ref = cfg.SystemPromptRef
	}

	return assembler.Params{
		Model:           cfg.ModelName,
		SystemPromptRef: ref,
		Prompts:         cfg.Prompts,
		Generation:      cfg.Generation,
		Safety:          cfg.Safety,
	}
}

// outcomeTurn returns the model turn to append and the text to send. Failed
// and blocked requests get a placeholder turn so roles keep alternating.
func (c *chatService) outcomeTurn(ctx context.Context, out dispatcher.Outcome) (domain.Turn, string) {
	switch out.State {
	case dispatcher.StateSuccess:
		slog.InfoContext(ctx, "request succeeded",
			"attempts", out.Attempts,
			"prompt_tokens", out.Usage.PromptTokens,
			"response_tokens", out.Usage.ResponseTokens,
		)
		return *out.Turn, out.Turn.Text()
	case dispatcher.StateBlocked:
		category := lo.CoalesceOrEmpty(out.BlockCategory, "unspecified")
		slog.WarnContext(ctx, "response blocked", "category", category)
		return c.placeholder("[response blocked: " + category + "]"), fmt.Sprintf(blockedText, category)
	default:
		slog.ErrorContext(ctx, "request failed", "attempts", out.Attempts, "retries", out.Retries, logger.Err(out.Err))
		return c.placeholder("[no response: request failed]"), failedText
	}
}

func (c *chatService) placeholder(text string) domain.Turn {
	return domain.Turn{
		ID:          uuid.NewString(),
		Role:        domain.RoleModel,
		Parts:       []domain.ContentPart{domain.TextPart(text)},
		CreatedAt:   c.now(),
		Placeholder: true,
	}
}

func (c *chatService) logAppendError(ctx context.Context, msg string, err error) {
	if errors.Is(err, domain.ErrStaleSession) {
		slog.InfoContext(ctx, "session was reset during the request, discarding result")
		return
	}
	slog.ErrorContext(ctx, msg, logger.Err(err))
}

func (c *chatService) respond(ctx context.Context, event domain.InboundEvent, text string) {
	c.send(ctx, domain.Response{
		ChatID:           event.ChatID,
		Text:             text,
		ReplyToMessageID: event.MessageID,
	})
}

func (c *chatService) send(ctx context.Context, resp domain.Response) {
	select {
	case c.responseCh <- resp:
	case <-ctx.Done():
		slog.WarnContext(ctx, "dropping response, context done", logger.Err(ctx.Err()))
	}
}
