// Package dispatcher submits generation requests to a backend and drives
// each one to a terminal state, retrying transient faults with backoff.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
)

type State string

const (
	StatePending  State = "PENDING"
	StateRetrying State = "RETRYING"
	StateSuccess  State = "SUCCESS"
	StateFailed   State = "FAILED"
	StateBlocked  State = "BLOCKED"
)

type Backend interface {
	Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error)
}

// Observer receives dispatch events, typically to export metrics.
type Observer interface {
	ObserveAttempt(latency time.Duration, err error)
	ObserveRetry(kind domain.BackendErrorKind)
	ObserveOutcome(state State)
}

type noopObserver struct{}

func (noopObserver) ObserveAttempt(time.Duration, error)  {}
func (noopObserver) ObserveRetry(domain.BackendErrorKind) {}
func (noopObserver) ObserveOutcome(State)                 {}

// Outcome is the terminal result of one request. Only SUCCESS carries a
// Turn; the caller decides whether and where to append it.
type Outcome struct {
	State         State
	Turn          *domain.Turn
	Usage         domain.Usage
	BlockCategory string
	Err           error

	Attempts int
	Retries  int
	// Delays are the waits before each retry, in order.
	Delays []time.Duration
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Dispatcher)

func WithSleep(sleep SleepFunc) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// WithRand sets the source of jitter; it must return values in [0, 1).
func WithRand(r func() float64) Option {
	return func(d *Dispatcher) { d.rand = r }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type Dispatcher struct {
	backend  Backend
	policy   Policy
	sleep    SleepFunc
	rand     func() float64
	now      func() time.Time
	newID    func() string
	observer Observer
}

func New(backend Backend, policy Policy, opts ...Option) (*Dispatcher, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("validating retry policy: %w", err)
	}

	d := &Dispatcher{
		backend:  backend,
		policy:   policy,
		sleep:    sleepContext,
		rand:     rand.Float64,
		now:      time.Now,
		newID:    uuid.NewString,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch runs the request until it succeeds, is blocked, or fails. Only
// the backend call and the backoff wait block. History is never touched.
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.GenerationRequest) Outcome {
	out := d.run(ctx, req)
	d.observer.ObserveOutcome(out.State)
	return out
}

func (d *Dispatcher) run(ctx context.Context, req *domain.GenerationRequest) Outcome {
	var (
		out  Outcome
		prev time.Duration
	)

	for {
		out.Attempts++
		slog.DebugContext(ctx, "dispatching request", "state", StatePending, "attempt", out.Attempts, "model", req.Model)

		start := d.now()
		res, err := d.backend.Generate(ctx, req)
		d.observer.ObserveAttempt(d.now().Sub(start), err)

		if err == nil {
			return d.finish(out, res)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			out.State = StateFailed
			out.Err = fmt.Errorf("request canceled: %w", ctxErr)
			return out
		}

		var be *domain.BackendError
		if !errors.As(err, &be) {
			// Unclassified errors come from the transport layer.
			be = &domain.BackendError{Kind: domain.BackendTransient, Err: err}
		}

		if be.Kind == domain.BackendPermanent {
			out.State = StateFailed
			out.Err = be
			return out
		}
		if out.Attempts >= d.policy.MaxAttempts {
			out.State = StateFailed
			out.Err = fmt.Errorf("giving up after %d attempts: %w", out.Attempts, be)
			return out
		}

		delay := max(d.policy.Delay(out.Retries, d.rand()), be.RetryAfter, prev)
		prev = delay

		slog.WarnContext(ctx, "backend call failed, retrying",
			"state", StateRetrying,
			"kind", be.Kind,
			"attempt", out.Attempts,
			"max_attempts", d.policy.MaxAttempts,
			"delay", delay,
			logger.Err(be),
		)
		d.observer.ObserveRetry(be.Kind)

		if err := d.sleep(ctx, delay); err != nil {
			out.State = StateFailed
			out.Err = fmt.Errorf("waiting to retry: %w", err)
			return out
		}
		out.Retries++
		out.Delays = append(out.Delays, delay)
	}
}

func (d *Dispatcher) finish(out Outcome, res *domain.GenerationResult) Outcome {
	out.Usage = res.Usage
	if res.Blocked {
		out.State = StateBlocked
		out.BlockCategory = res.BlockCategory
		return out
	}

	out.State = StateSuccess
	out.Turn = &domain.Turn{
		ID:        d.newID(),
		Role:      domain.RoleModel,
		Parts:     []domain.ContentPart{domain.TextPart(res.Text)},
		CreatedAt: d.now(),
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
